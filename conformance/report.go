package conformance

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

//Summary counts results by outcome
type Summary struct {
	Passed       int `yaml:"passed"`
	Failed       int `yaml:"failed"`
	Inconclusive int `yaml:"inconclusive"`
}

type reportEntry struct {
	Suite    string   `yaml:"suite"`
	Scenario string   `yaml:"scenario"`
	Outcome  Outcome  `yaml:"outcome"`
	Duration string   `yaml:"duration"`
	Messages []string `yaml:"messages,omitempty"`
}

//Report is the document written by WriteReport
type Report struct {
	Generated string        `yaml:"generated"`
	Server    string        `yaml:"server,omitempty"`
	Summary   Summary       `yaml:"summary"`
	Results   []reportEntry `yaml:"results"`
}

//Summarize counts the outcomes
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Outcome {
		case Passed:
			s.Passed++
		case Failed:
			s.Failed++
		default:
			s.Inconclusive++
		}
	}
	return s
}

//NewReport builds the report document for a run
func NewReport(server string, results []Result) Report {
	rep := Report{
		Generated: time.Now().UTC().Format(time.RFC3339),
		Server:    server,
		Summary:   Summarize(results),
	}
	for _, r := range results {
		rep.Results = append(rep.Results, reportEntry{
			Suite:    r.Suite,
			Scenario: r.Scenario,
			Outcome:  r.Outcome,
			Duration: r.Duration.Round(time.Millisecond).String(),
			Messages: r.Messages,
		})
	}
	return rep
}

//WriteReport writes the results as yaml to path
func WriteReport(path, server string, results []Result) error {
	data, err := yaml.Marshal(NewReport(server, results))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
