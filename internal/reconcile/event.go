package reconcile

import (
	"github.com/aws/aws-lambda-go/cfn"
)

// Request types sent by the orchestrator.
const (
	RequestCreate = "Create"
	RequestUpdate = "Update"
	RequestDelete = "Delete"
)

// Event is one lifecycle request. The correlation fields are echoed back
// unchanged in the callback.
type Event struct {
	RequestType        string
	RequestID          string
	StackID            string
	LogicalResourceID  string
	PhysicalResourceID string
	ResponseURL        string

	ResourceProperties    map[string]interface{}
	OldResourceProperties map[string]interface{}
}

// FromCFN converts a CloudFormation custom resource event
func FromCFN(e cfn.Event) Event {
	return Event{
		RequestType:           string(e.RequestType),
		RequestID:             e.RequestID,
		StackID:               e.StackID,
		LogicalResourceID:     e.LogicalResourceID,
		PhysicalResourceID:    e.PhysicalResourceID,
		ResponseURL:           e.ResponseURL,
		ResourceProperties:    e.ResourceProperties,
		OldResourceProperties: e.OldResourceProperties,
	}
}

// fallbackPhysicalID is used when no valid name is available, so a FAILED
// report still carries a non-empty physical id.
func (e Event) fallbackPhysicalID() string {
	switch {
	case e.PhysicalResourceID != "":
		return e.PhysicalResourceID
	case e.LogicalResourceID != "":
		return e.LogicalResourceID
	default:
		return e.RequestID
	}
}

// FailedPhysicalID is reported for a request that did not complete. For a
// Create it never equals the key pair name, so the rollback Delete cannot
// reach records that belong to whoever already holds the name.
func (e Event) FailedPhysicalID() string {
	if e.RequestType == RequestCreate {
		if name, ok := e.ResourceProperties["Name"].(string); ok && name != "" {
			suffix := e.RequestID
			if suffix == "" {
				suffix = e.LogicalResourceID
			}
			return name + "/failed-" + suffix
		}
	}
	return e.fallbackPhysicalID()
}
