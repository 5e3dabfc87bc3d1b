package activesync

import (
	"errors"
	"fmt"
	"strconv"
)

//Status is the value of a command's Status element
type Status int

const (
	StatusUnknown                  Status = 0
	StatusSuccess                  Status = 1
	StatusIRMFeatureDisabled       Status = 168
	StatusIRMTransientError        Status = 169
	StatusIRMPermanentError        Status = 170
	StatusIRMInvalidTemplateID     Status = 171
	StatusIRMOperationNotPermitted Status = 172
)

var statusNames = map[Status]string{
	StatusSuccess:                  "Success",
	StatusIRMFeatureDisabled:       "IRM feature disabled",
	StatusIRMTransientError:        "IRM transient error",
	StatusIRMPermanentError:        "IRM permanent error",
	StatusIRMInvalidTemplateID:     "IRM invalid template ID",
	StatusIRMOperationNotPermitted: "IRM operation not permitted",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return fmt.Sprintf("%d (%s)", int(s), n)
	}
	return strconv.Itoa(int(s))
}

//parseStatus reads a Status element, StatusUnknown when missing
func parseStatus(n *Node) Status {
	if n == nil {
		return StatusUnknown
	}
	v, err := strconv.Atoi(n.Text)
	if err != nil {
		return StatusUnknown
	}
	return Status(v)
}

var (
	//ErrProvisioningRequired is returned for HTTP 449, the device has to run Provision first
	ErrProvisioningRequired = errors.New("the server requires the device to be provisioned")
	//ErrUnexpectedResponse is returned when the response document has the wrong root
	ErrUnexpectedResponse = errors.New("unexpected response document")
)

//HTTPError is a non-2xx answer to a command
type HTTPError struct {
	Command    string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned HTTP %s", e.Command, e.Status)
}

//StatusError is a command answered with a Status other than Success
type StatusError struct {
	Command string
	Status  Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %s", e.Command, e.Status)
}
