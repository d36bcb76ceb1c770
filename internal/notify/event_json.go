package notify

import "encoding/json"

type eventPayload struct {
	ComposeID int64  `json:"compose_id"`
	State     string `json:"state"`
	Reason    string `json:"state_reason,omitempty"`
}

func eventJSON(e Event) ([]byte, error) {
	return json.Marshal(eventPayload{
		ComposeID: e.ComposeID,
		State:     string(e.State),
		Reason:    e.Reason,
	})
}
