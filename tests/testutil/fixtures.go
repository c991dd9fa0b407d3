package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/stretchr/testify/require"
)

// Correlation values used by event fixtures.
const (
	TestStackID           = "arn:aws:cloudformation:us-east-1:123456789012:stack/app/0a1b2c3d"
	TestLogicalResourceID = "SigningKeys"
	TestResourceType      = "Custom::KeyPair"
)

// EventJSON builds the JSON body of a custom resource event as the
// orchestrator sends it. Empty requestID or responseURL are omitted.
func EventJSON(t *testing.T, requestType, requestID, responseURL string, props map[string]interface{}) []byte {
	t.Helper()

	event := map[string]interface{}{
		"RequestType":        requestType,
		"StackId":            TestStackID,
		"LogicalResourceId":  TestLogicalResourceID,
		"ResourceType":       TestResourceType,
		"ResourceProperties": props,
	}
	if requestID != "" {
		event["RequestId"] = requestID
	}
	if responseURL != "" {
		event["ResponseURL"] = responseURL
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)
	return data
}

// CFNEvent decodes EventJSON into the Lambda event type, so tests exercise
// the same JSON mapping as the runtime.
func CFNEvent(t *testing.T, requestType, requestID, responseURL string, props map[string]interface{}) cfn.Event {
	t.Helper()

	var event cfn.Event
	require.NoError(t, json.Unmarshal(EventJSON(t, requestType, requestID, responseURL, props), &event))
	return event
}

// WriteEventFile writes EventJSON to a file in a temporary directory and
// returns its path.
func WriteEventFile(t *testing.T, requestType, requestID, responseURL string, props map[string]interface{}) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, EventJSON(t, requestType, requestID, responseURL, props), 0o600))
	return path
}

// KeyPairProperties returns ResourceProperties for name and description.
func KeyPairProperties(name, description string, regions ...string) map[string]interface{} {
	props := map[string]interface{}{
		"ServiceToken": "arn:aws:lambda:us-east-1:123456789012:function:keypair",
		"Name":         name,
	}
	if description != "" {
		props["Description"] = description
	}
	if len(regions) > 0 {
		list := make([]interface{}, len(regions))
		for i, r := range regions {
			list[i] = r
		}
		props["SecretRegions"] = list
	}
	return props
}
