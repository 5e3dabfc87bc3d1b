package conformance

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sensepost/exconform/utils"
)

//Outcome of a scenario
type Outcome string

const (
	Passed       Outcome = "passed"
	Failed       Outcome = "failed"
	Inconclusive Outcome = "inconclusive"
)

//Scenario is one conformance check against the server
type Scenario struct {
	Name        string
	Description string
	Run         func(t *T)
}

//Result records how a scenario went
type Result struct {
	Suite    string
	Scenario string
	Outcome  Outcome
	Messages []string
	Duration time.Duration
}

//T is handed to a scenario. It satisfies the TestingT interfaces of testify's
//assert and require packages, FailNow stops only the running scenario.
type T struct {
	name string

	mu       sync.Mutex
	messages []string
	failed   bool
	skipped  bool
	cleanups []func()
}

func newT(name string) *T {
	return &T{name: name}
}

//Name of the running scenario
func (t *T) Name() string {
	return t.name
}

//Helper is a no-op, testify calls it when present
func (t *T) Helper() {}

func (t *T) record(msg string) {
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.mu.Unlock()
}

//Logf records a message without failing
func (t *T) Logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	utils.Trace.Printf("[%s] %s", t.name, msg)
	t.record(msg)
}

//Errorf records a failure and carries on
func (t *T) Errorf(format string, args ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	utils.Debug.Printf("[%s] %s", t.name, msg)
	t.record(msg)
	t.Fail()
}

//Fail marks the scenario failed
func (t *T) Fail() {
	t.mu.Lock()
	t.failed = true
	t.mu.Unlock()
}

//Failed reports whether a failure was recorded
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

//FailNow marks the scenario failed and stops it
func (t *T) FailNow() {
	t.Fail()
	runtime.Goexit()
}

//Fatalf is Errorf followed by FailNow
func (t *T) Fatalf(format string, args ...interface{}) {
	t.Errorf(format, args...)
	t.FailNow()
}

//Skipf stops the scenario and marks it inconclusive
func (t *T) Skipf(format string, args ...interface{}) {
	t.record("inconclusive: " + fmt.Sprintf(format, args...))
	t.mu.Lock()
	t.skipped = true
	t.mu.Unlock()
	runtime.Goexit()
}

//Skip is Skipf with fmt.Sprint formatting
func (t *T) Skip(args ...interface{}) {
	t.Skipf("%s", fmt.Sprint(args...))
}

//Cleanup registers f to run after the scenario, last registered first
func (t *T) Cleanup(f func()) {
	t.mu.Lock()
	t.cleanups = append(t.cleanups, f)
	t.mu.Unlock()
}

//run calls fn in its own goroutine so FailNow and Skip can Goexit
func (t *T) run(fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("panic: %v", r)
			}
		}()
		fn()
	}()
	<-done
}

func (t *T) outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.failed:
		return Failed
	case t.skipped:
		return Inconclusive
	}
	return Passed
}

//Matches reports whether the scenario name is selected by filter, a
//comma separated list of glob patterns. An empty filter selects everything.
func Matches(filter, name string) bool {
	if filter == "" {
		return true
	}
	for _, f := range strings.Split(filter, ",") {
		f = strings.TrimSpace(f)
		if f == name {
			return true
		}
		if ok, err := filepath.Match(f, name); err == nil && ok {
			return true
		}
	}
	return false
}

//RunScenario executes one scenario and its cleanups
func RunScenario(suite string, s Scenario) Result {
	t := newT(s.Name)
	start := time.Now()
	t.run(func() { s.Run(t) })
	for i := len(t.cleanups) - 1; i >= 0; i-- {
		t.run(t.cleanups[i])
	}
	return Result{
		Suite:    suite,
		Scenario: s.Name,
		Outcome:  t.outcome(),
		Messages: t.messages,
		Duration: time.Since(start),
	}
}

//Run executes the selected scenarios one after the other
func Run(suite string, scenarios []Scenario, filter string) []Result {
	var results []Result
	for _, s := range scenarios {
		if !Matches(filter, s.Name) {
			continue
		}
		utils.Info.Printf("Running %s/%s", suite, s.Name)
		r := RunScenario(suite, s)
		switch r.Outcome {
		case Passed:
			utils.Info.Printf("%s/%s passed (%s)", suite, s.Name, r.Duration.Round(time.Millisecond))
		case Inconclusive:
			utils.Warning.Printf("%s/%s inconclusive", suite, s.Name)
		default:
			utils.Fail.Printf("%s/%s failed", suite, s.Name)
			for _, m := range r.Messages {
				utils.Fail.Printf("    %s", strings.ReplaceAll(m, "\n", "\n    "))
			}
		}
		results = append(results, r)
	}
	return results
}

//AnyFailed reports whether a result failed
func AnyFailed(results []Result) bool {
	for _, r := range results {
		if r.Outcome == Failed {
			return true
		}
	}
	return false
}

//ErrPollTimeout is returned when Poll runs out of attempts
var ErrPollTimeout = errors.New("condition not met")

//Poll calls fn up to attempts times, sleeping wait between calls, until it
//reports true. Errors from fn are retried, the last one is returned.
func Poll(attempts int, wait time.Duration, fn func() (bool, error)) error {
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(wait)
		}
		ok, err := fn()
		if err != nil {
			utils.Trace.Printf("poll attempt %d/%d: %s", i+1, attempts, err)
			last = err
			continue
		}
		if ok {
			return nil
		}
	}
	if last != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrPollTimeout, attempts, last)
	}
	return fmt.Errorf("%w after %d attempts", ErrPollTimeout, attempts)
}
