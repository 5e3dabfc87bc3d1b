package utils

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"os"
	"time"

	"golang.org/x/net/publicsuffix"
	"gopkg.in/yaml.v2"
)

//UserConfig is a mailbox the suites log on as
type UserConfig struct {
	Domain   string `yaml:"domain"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Email    string `yaml:"email"`
	NTHash   string `yaml:"nthash"`
}

//MapiConfig holds the MAPI/HTTP endpoint settings
type MapiConfig struct {
	URL      string `yaml:"url"`
	LegacyDN string `yaml:"legacydn"`
	Server   string `yaml:"server"`
	User     string `yaml:"user"`

	//AddressBook is the NSPI url used to resolve recipient EntryIDs
	AddressBook string `yaml:"addressbook"`
}

//ActiveSyncConfig holds the ActiveSync endpoint settings
type ActiveSyncConfig struct {
	URL             string `yaml:"url"`
	ProtocolVersion string `yaml:"protocol_version"`
	DeviceID        string `yaml:"device_id"`
	DeviceType      string `yaml:"device_type"`
	Provision       bool   `yaml:"provision"`
}

//RightsConfig names the templates the rights management scenarios use
type RightsConfig struct {
	TemplateID       string `yaml:"template_id"`
	DoNotForwardID   string `yaml:"do_not_forward_id"`
	DoNotForwardName string `yaml:"do_not_forward_name"`
	Sender           string `yaml:"sender"`
	Recipient        string `yaml:"recipient"`
	Forwardee        string `yaml:"forwardee"`
}

//SMTPConfig is used to deliver the mail that triggers rules
type SMTPConfig struct {
	Addr     string `yaml:"addr"`
	StartTLS bool   `yaml:"starttls"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Hostname string `yaml:"hostname"`
}

//SUTConfig describes how the system under test is reconfigured
type SUTConfig struct {
	SSLEnable  string `yaml:"ssl_enable"`
	SSLDisable string `yaml:"ssl_disable"`
	Prompt     bool   `yaml:"prompt"`
}

//WaitConfig bounds the poll loops
type WaitConfig struct {
	Attempts int `yaml:"attempts"`
	Interval int `yaml:"interval"`
}

//Config is the yaml configuration file
type Config struct {
	Users      map[string]UserConfig `yaml:"users"`
	Mapi       MapiConfig            `yaml:"mapi"`
	ActiveSync ActiveSyncConfig      `yaml:"activesync"`
	Rights     RightsConfig          `yaml:"rights"`
	SMTP       SMTPConfig            `yaml:"smtp"`
	SUT        SUTConfig             `yaml:"sut"`
	Wait       WaitConfig            `yaml:"wait"`
	Basic      bool                  `yaml:"basic"`
	Insecure   bool                  `yaml:"insecure"`
	Proxy      string                `yaml:"proxy"`
	Timeout    int                   `yaml:"timeout"`
	UserAgent  string                `yaml:"useragent"`
}

//ErrNoUsers is returned when the configuration has no accounts
var ErrNoUsers = errors.New("no users configured")

// ReadYml reads the supplied config file, Unmarshals the data into the config struct.
func ReadYml(yml string) (Config, error) {
	var config Config
	data, err := os.ReadFile(yml)
	if err != nil {
		return Config{}, err
	}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return Config{}, err
	}
	config.setDefaults()
	return config, nil
}

func (c *Config) setDefaults() {
	if c.ActiveSync.ProtocolVersion == "" {
		c.ActiveSync.ProtocolVersion = "14.1"
	}
	if c.ActiveSync.DeviceType == "" {
		c.ActiveSync.DeviceType = "exconform"
	}
	if c.Wait.Attempts <= 0 {
		c.Wait.Attempts = 10
	}
	if c.Wait.Interval <= 0 {
		c.Wait.Interval = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 60
	}
	if c.UserAgent == "" {
		c.UserAgent = "exconform/1.0"
	}
}

//Validate lists the missing fields of the configuration
func (c *Config) Validate() error {
	if len(c.Users) == 0 {
		return ErrNoUsers
	}
	var errs []error
	for name, u := range c.Users {
		if u.Email == "" {
			errs = append(errs, fmt.Errorf("user %s: email is required", name))
		}
		if u.Username == "" && u.Email == "" {
			errs = append(errs, fmt.Errorf("user %s: username or email is required", name))
		}
	}
	if c.Mapi.User != "" {
		if _, ok := c.Users[c.Mapi.User]; !ok {
			errs = append(errs, fmt.Errorf("mapi.user %s is not a configured user", c.Mapi.User))
		}
	}
	for _, ref := range []string{c.Rights.Sender, c.Rights.Recipient, c.Rights.Forwardee} {
		if ref == "" {
			continue
		}
		if _, ok := c.Users[ref]; !ok {
			errs = append(errs, fmt.Errorf("rights user %s is not a configured user", ref))
		}
	}
	return errors.Join(errs...)
}

//Duration returns the poll interval
func (w WaitConfig) Duration() time.Duration {
	return time.Duration(w.Interval) * time.Second
}

//Session holds the credentials and transport settings of a single user
type Session struct {
	User      string
	Pass      string
	Email     string
	Domain    string
	NTHash    []byte
	Basic     bool
	Insecure  bool
	Proxy     string
	UserAgent string
	Hostname  string
	Timeout   time.Duration
	CookieJar *cookiejar.Jar
}

//NewSession builds the session for the named user
func (c *Config) NewSession(name string) (*Session, error) {
	acct, ok := c.Users[name]
	if !ok {
		return nil, fmt.Errorf("user %s is not configured", name)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	sess := &Session{
		User:      acct.Username,
		Pass:      acct.Password,
		Email:     acct.Email,
		Domain:    acct.Domain,
		Basic:     c.Basic,
		Insecure:  c.Insecure,
		Proxy:     c.Proxy,
		UserAgent: c.UserAgent,
		Timeout:   time.Duration(c.Timeout) * time.Second,
		CookieJar: jar,
	}
	if sess.User == "" {
		sess.User = acct.Email
	}
	if acct.NTHash != "" {
		if sess.NTHash, err = hex.DecodeString(acct.NTHash); err != nil {
			return nil, fmt.Errorf("user %s: invalid nthash: %w", name, err)
		}
	}
	sess.Hostname, _ = os.Hostname()
	return sess, nil
}
