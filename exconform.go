package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/howeyc/gopass"
	"github.com/sensepost/exconform/activesync"
	"github.com/sensepost/exconform/asrm"
	"github.com/sensepost/exconform/autodiscover"
	"github.com/sensepost/exconform/conformance"
	"github.com/sensepost/exconform/mailer"
	"github.com/sensepost/exconform/mapi"
	"github.com/sensepost/exconform/oxorule"
	"github.com/sensepost/exconform/sut"
	"github.com/sensepost/exconform/utils"
	"github.com/urfave/cli"
)

//globals
var config utils.Config

//loadConfig reads the yaml configuration and asks for the passwords it lacks
func loadConfig(c *cli.Context) error {
	path := c.GlobalString("config")
	if path == "" {
		return fmt.Errorf("Required param --config is missing")
	}
	var err error
	if config, err = utils.ReadYml(path); err != nil {
		return fmt.Errorf("Failed to read config %s: %s", path, err)
	}
	if c.GlobalBool("insecure") {
		config.Insecure = true
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("Invalid config:\n%s", err)
	}
	for _, name := range userNames() {
		u := config.Users[name]
		if u.Password != "" || u.NTHash != "" {
			continue
		}
		utils.Question.Printf("Password for %s (%s): ", name, u.Email)
		pass, err := gopass.GetPasswd()
		if err != nil {
			// Handle gopass.ErrInterrupted or getch() read error
			return fmt.Errorf("Password or hash required for %s. Supply an nthash in the config", name)
		}
		u.Password = string(pass)
		config.Users[name] = u
	}
	return nil
}

func userNames() []string {
	var names []string
	for n := range config.Users {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

//mailboxUser is the account the MAPI suite logs on as
func mailboxUser() string {
	if config.Mapi.User != "" {
		return config.Mapi.User
	}
	return userNames()[0]
}

//discover runs autodiscover for a session, against --url when given
func discover(c *cli.Context, sess *utils.Session) (*autodiscover.Result, error) {
	ad, err := autodiscover.New(sess, c.GlobalString("url"))
	if err != nil {
		return nil, err
	}
	return ad.Lookup(sess.Email)
}

//resolveEndpoints fills the urls the configuration omits through autodiscover
func resolveEndpoints(c *cli.Context, mapiNeeded, activeSyncNeeded bool) {
	missing := (mapiNeeded && (config.Mapi.URL == "" || config.Mapi.LegacyDN == "")) ||
		(activeSyncNeeded && config.ActiveSync.URL == "")
	if !missing {
		return
	}
	sess, err := config.NewSession(mailboxUser())
	if err != nil {
		utils.Error.Println(err)
		return
	}
	res, err := discover(c, sess)
	if err != nil {
		utils.Warning.Printf("Autodiscover failed, dependent scenarios will be inconclusive: %s", err)
		return
	}
	if config.Mapi.URL == "" {
		config.Mapi.URL = res.MapiURL
	}
	if config.Mapi.LegacyDN == "" {
		config.Mapi.LegacyDN = res.LegacyDN
	}
	if config.Mapi.AddressBook == "" {
		config.Mapi.AddressBook = res.AddressBookURL
	}
	if config.Mapi.Server == "" {
		config.Mapi.Server = res.Server
	}
	if config.ActiveSync.URL == "" {
		config.ActiveSync.URL = res.ActiveSyncURL
	}
}

//oxoruleEnv logs on to the mailbox. The returned func ends the session.
func oxoruleEnv() (*oxorule.Env, func()) {
	name := mailboxUser()
	env := &oxorule.Env{
		Email:    config.Users[name].Email,
		Attempts: config.Wait.Attempts,
		Wait:     config.Wait.Duration(),
	}
	if config.SMTP.Addr != "" {
		env.Mailer = mailer.New(config.SMTP, config.Insecure, time.Duration(config.Timeout)*time.Second)
	}
	if config.Rights.Sender != "" && config.Rights.Sender != name {
		env.Sender = config.Users[config.Rights.Sender].Email
	}

	sess, err := config.NewSession(name)
	if err != nil {
		utils.Error.Println(err)
		return env, func() {}
	}
	client, err := mapi.NewClient(sess, config.Mapi.URL, config.Mapi.LegacyDN)
	if err != nil {
		utils.Warning.Printf("No MAPI session: %s", err)
		return env, func() {}
	}
	if err := client.SetAddressBookURL(config.Mapi.AddressBook); err != nil {
		utils.Warning.Printf("%s, recipient EntryIDs are built from the LegacyDN", err)
	}
	logon, err := client.Authenticate()
	if err != nil {
		utils.Warning.Printf("MAPI logon as %s failed: %s", name, err)
		return env, func() {}
	}
	utils.Info.Printf("Logged on to the mailbox of %s", client.DisplayName())
	utils.Trace.Printf("Logon flags 0x%02x", logon.LogonFlags)
	env.Mailbox = client
	return env, func() {
		if err := client.Disconnect(); err != nil {
			utils.Error.Println(err)
		}
	}
}

//connectActiveSync opens an ActiveSync session for a configured user
func connectActiveSync(name string, ssl bool) (asrm.Adapter, error) {
	sess, err := config.NewSession(name)
	if err != nil {
		return nil, err
	}
	cfg := config.ActiveSync
	if cfg.URL == "" {
		return nil, fmt.Errorf("no ActiveSync url configured or discovered")
	}
	if !ssl {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, err
		}
		u.Scheme = "http"
		cfg.URL = u.String()
	}
	client, err := activesync.NewClient(sess, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Provision {
		if _, err := client.Provision(); err != nil {
			return nil, fmt.Errorf("Provision as %s: %w", name, err)
		}
	}
	return client, nil
}

func asrmEnv() *asrm.Env {
	return &asrm.Env{
		Connect:  connectActiveSync,
		Users:    config.Users,
		Rights:   config.Rights,
		SUT:      sut.New(config.SUT),
		Attempts: config.Wait.Attempts,
		Wait:     config.Wait.Duration(),
	}
}

func reportServer() string {
	for _, raw := range []string{config.Mapi.URL, config.ActiveSync.URL} {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return ""
}

//runSuites executes the named suites and reports, failing scenarios make the exit code 1
func runSuites(c *cli.Context, suites ...string) error {
	if err := loadConfig(c); err != nil {
		return err
	}
	has := func(s string) bool {
		for _, v := range suites {
			if v == s {
				return true
			}
		}
		return false
	}
	resolveEndpoints(c, has(oxorule.Suite), has(asrm.Suite))

	filter := c.String("run")
	var results []conformance.Result
	if has(oxorule.Suite) {
		env, done := oxoruleEnv()
		results = append(results, conformance.Run(oxorule.Suite, oxorule.Scenarios(env), filter)...)
		done()
	}
	if has(asrm.Suite) {
		results = append(results, conformance.Run(asrm.Suite, asrm.Scenarios(asrmEnv()), filter)...)
	}

	s := conformance.Summarize(results)
	utils.Info.Printf("%d passed, %d failed, %d inconclusive", s.Passed, s.Failed, s.Inconclusive)
	if path := c.GlobalString("report"); path != "" {
		if err := conformance.WriteReport(path, reportServer(), results); err != nil {
			return fmt.Errorf("Failed to write report: %s", err)
		}
		utils.Info.Printf("Report written to %s", path)
	}
	if conformance.AnyFailed(results) {
		return cli.NewExitError("", 1)
	}
	return nil
}

func autodiscoverCmd(c *cli.Context) error {
	if err := loadConfig(c); err != nil {
		return err
	}
	name := c.String("user")
	if name == "" {
		name = mailboxUser()
	}
	sess, err := config.NewSession(name)
	if err != nil {
		return err
	}
	res, err := discover(c, sess)
	if err != nil {
		return err
	}
	fmt.Printf("Email:         %s\n", res.Email)
	fmt.Printf("LegacyDN:      %s\n", res.LegacyDN)
	fmt.Printf("Server:        %s\n", res.Server)
	fmt.Printf("MAPI/HTTP:     %s\n", res.MapiURL)
	fmt.Printf("ActiveSync:    %s\n", res.ActiveSyncURL)
	return nil
}

//readHex accepts the buffer as an argument or on stdin, with or without separators
func readHex(c *cli.Context) ([]byte, error) {
	in := c.Args().First()
	if in == "" || in == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		in = string(data)
	}
	in = strings.NewReplacer(" ", "", ":", "", "\n", "", "\r", "", "\t", "", "0x", "").Replace(in)
	buf, err := hex.DecodeString(in)
	if err != nil {
		return nil, fmt.Errorf("Invalid hex input: %s", err)
	}
	return buf, nil
}

func mailboxGUID(c *cli.Context) ([]byte, error) {
	if g := c.String("mailbox-guid"); g != "" {
		return utils.GUIDToByteArray(g)
	}
	return nil, nil
}

//decoder decodes one structure, invalid lists the violations of a buffer that decoded
type decoder struct {
	name  string
	usage string
	run   func(c *cli.Context, buf []byte) (v interface{}, invalid error, err error)
}

var decoders = []decoder{
	{"ruleaction", "RuleAction (PidTagRuleActions), --extended for 4 byte counts", func(c *cli.Context, buf []byte) (interface{}, error, error) {
		ra, err := mapi.DecodeRuleAction(buf, c.Bool("extended"))
		if err != nil {
			return nil, nil, err
		}
		return ra, oxorule.ValidateRuleAction(ra, c.Bool("extended")), nil
	}},
	{"extended-actions", "ExtendedRuleActions (PidTagExtendedRuleMessageActions)", func(c *cli.Context, buf []byte) (interface{}, error, error) {
		era, err := mapi.DecodeExtendedRuleActions(buf)
		if err != nil {
			return nil, nil, err
		}
		return era, oxorule.ValidateExtendedRuleActions(era), nil
	}},
	{"named-props", "NamedPropertyInformation", func(c *cli.Context, buf []byte) (interface{}, error, error) {
		npi, err := mapi.DecodeNamedPropertyInformation(buf)
		if err != nil {
			return nil, nil, err
		}
		return npi, oxorule.ValidateNamedPropertyInformation(npi), nil
	}},
	{"folder-eid", "Folder EntryID", func(c *cli.Context, buf []byte) (interface{}, error, error) {
		guid, err := mailboxGUID(c)
		if err != nil {
			return nil, nil, err
		}
		f, err := mapi.DecodeFolderEntryID(buf)
		if err != nil {
			return nil, nil, err
		}
		return f, oxorule.ValidateFolderEntryID(f, guid), nil
	}},
	{"message-eid", "Message EntryID", func(c *cli.Context, buf []byte) (interface{}, error, error) {
		guid, err := mailboxGUID(c)
		if err != nil {
			return nil, nil, err
		}
		m, err := mapi.DecodeMessageEntryID(buf)
		if err != nil {
			return nil, nil, err
		}
		return m, oxorule.ValidateMessageEntryID(m, guid), nil
	}},
	{"store-eid", "Store Object EntryID", func(c *cli.Context, buf []byte) (interface{}, error, error) {
		s, err := mapi.DecodeStoreObjectEntryID(buf)
		if err != nil {
			return nil, nil, err
		}
		return s, oxorule.ValidateStoreObjectEntryID(s), nil
	}},
	{"server-eid", "ServerEid of a standard rule move or copy action", func(c *cli.Context, buf []byte) (interface{}, error, error) {
		s, err := mapi.DecodeServerEID(buf)
		if err != nil {
			return nil, nil, err
		}
		return s, oxorule.ValidateServerEID(s), nil
	}},
}

func (d decoder) action(c *cli.Context) error {
	buf, err := readHex(c)
	if err != nil {
		return err
	}
	utils.Debug.Printf("%s input\n%s", d.name, hex.Dump(buf))
	v, invalid, err := d.run(c, buf)
	if err != nil {
		return fmt.Errorf("Failed to decode %s: %s", d.name, err)
	}
	fmt.Printf("%+v\n", v)
	if invalid != nil {
		for _, line := range strings.Split(invalid.Error(), "\n") {
			utils.Fail.Println(line)
		}
		return cli.NewExitError("", 1)
	}
	utils.Info.Printf("%s is valid", d.name)
	return nil
}

func decodeCommands() []cli.Command {
	var cmds []cli.Command
	for _, d := range decoders {
		cmds = append(cmds, cli.Command{
			Name:      d.name,
			Usage:     "decode and validate a " + d.usage,
			ArgsUsage: "<hex>",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "extended",
					Usage: "The buffer belongs to an extended rule",
				},
				cli.StringFlag{
					Name:  "mailbox-guid",
					Value: "",
					Usage: "Check the EntryID against this mailbox GUID",
				},
			},
			Action: d.action,
		})
	}
	return cmds
}

var runFlag = cli.StringFlag{
	Name:  "run",
	Value: "",
	Usage: "Comma separated scenario names or glob patterns to run",
}

func main() {

	app := cli.NewApp()

	app.Name = "exconform"
	app.Usage = "An Exchange conformance harness for MS-OXORULE and MS-ASRM"
	app.Version = "1.0.0"
	app.Description = `Runs protocol conformance scenarios against a live Exchange server:
server side rules over MAPI/HTTP and rights management over ActiveSync.`

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Value: "",
			Usage: "The path to the yaml config file",
		},
		cli.StringFlag{
			Name:  "url",
			Value: "",
			Usage: "If you know the Autodiscover URL or the autodiscover service is failing. Requires full URI, https://autodisc.d.com/autodiscover/autodiscover.xml",
		},
		cli.StringFlag{
			Name:  "report",
			Value: "",
			Usage: "Write the results as yaml to this file",
		},
		cli.BoolFlag{
			Name:  "insecure,k",
			Usage: "Ignore server SSL certificate errors",
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "Be verbose and show some of the inner workings",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "Print hex dumps of the wire buffers",
		},
	}

	app.Before = func(c *cli.Context) error {
		if c.Bool("verbose") || c.Bool("debug") {
			utils.Init(os.Stdout, os.Stdout, os.Stdout, os.Stderr)
		} else {
			utils.Init(io.Discard, os.Stdout, os.Stdout, os.Stderr)
		}
		if c.Bool("debug") {
			utils.InitDebug(os.Stdout)
		}
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:  "oxorule",
			Usage: "run the MS-OXORULE scenarios over MAPI/HTTP",
			Flags: []cli.Flag{runFlag},
			Action: func(c *cli.Context) error {
				return runSuites(c, oxorule.Suite)
			},
		},
		{
			Name:  "asrm",
			Usage: "run the MS-ASRM scenarios over ActiveSync",
			Flags: []cli.Flag{runFlag},
			Action: func(c *cli.Context) error {
				return runSuites(c, asrm.Suite)
			},
		},
		{
			Name:  "all",
			Usage: "run every suite",
			Flags: []cli.Flag{runFlag},
			Action: func(c *cli.Context) error {
				return runSuites(c, oxorule.Suite, asrm.Suite)
			},
		},
		{
			Name:        "decode",
			Usage:       "decode and validate a hex encoded structure offline",
			Subcommands: decodeCommands(),
		},
		{
			Name:    "autodiscover",
			Aliases: []string{"a"},
			Usage:   "show the endpoints autodiscover returns for a user",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "user,u",
					Value: "",
					Usage: "The configured user to look up, defaults to the mailbox user",
				},
			},
			Action: autodiscoverCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		if _, ok := err.(cli.ExitCoder); !ok {
			utils.Error.Println(err)
			os.Exit(1)
		}
	}
}
