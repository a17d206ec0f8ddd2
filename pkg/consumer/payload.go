package consumer

import (
	"encoding/json"
	"regexp"

	"github.com/loopworks/edgesync/pkg/syncerr"
)

// notificationEnvelope is the inbound queue shape described in spec.md §6:
// a JSON object with an array field "value" holding change entries.
type notificationEnvelope struct {
	Value []changeEntry `json:"value"`
}

type changeEntry struct {
	SubscriptionID string `json:"subscriptionId"`
	Resource       string `json:"resource"`
	ChangeType     string `json:"changeType"`
	ClientState    string `json:"clientState"`
}

// continuationPayload is the self-enqueued shape C6 produces when a batch
// exceeds the configured size.
type continuationPayload struct {
	ItemIds   []string `json:"ItemIds"`
	DeltaLink string   `json:"DeltaLink"`
}

var resourceRE = regexp.MustCompile(`^sites/([^/]+)/lists/([^/]+)$`)

// payloadKind distinguishes which of the two recognized shapes a raw message
// carries, or neither.
type payloadKind int

const (
	payloadUnrecognized payloadKind = iota
	payloadEnvelope
	payloadContinuation
)

// classify sniffs raw for one of the two recognized shapes. A continuation
// is recognized by the presence of "ItemIds"; an envelope by the presence
// of "value". Anything else is payloadUnrecognized, which C7 logs and
// drops per spec.md §4.7.
func classify(raw []byte) (payloadKind, notificationEnvelope, continuationPayload, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return payloadUnrecognized, notificationEnvelope{}, continuationPayload{}, syncerr.Wrap(syncerr.KindBadResource, "message is not a JSON object", err)
	}

	if _, ok := probe["ItemIds"]; ok {
		var cont continuationPayload
		if err := json.Unmarshal(raw, &cont); err != nil {
			return payloadUnrecognized, notificationEnvelope{}, continuationPayload{}, syncerr.Wrap(syncerr.KindBadResource, "malformed continuation payload", err)
		}
		return payloadContinuation, notificationEnvelope{}, cont, nil
	}

	if _, ok := probe["value"]; ok {
		var env notificationEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return payloadUnrecognized, notificationEnvelope{}, continuationPayload{}, syncerr.Wrap(syncerr.KindBadResource, "malformed notification envelope", err)
		}
		return payloadEnvelope, env, continuationPayload{}, nil
	}

	return payloadUnrecognized, notificationEnvelope{}, continuationPayload{}, nil
}

// parseResource extracts (site, list) from a change entry's resource
// string, shaped "sites/{site}/lists/{list}". A mismatch is a BadResource
// condition: log and succeed, per the error table in spec.md §7.
func parseResource(resource string) (site, list string, ok bool) {
	m := resourceRE.FindStringSubmatch(resource)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
