package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FlexibleString accepts a JSON string, number or boolean and keeps its text,
// so "template_version": 2 and "signup_enabled": false both bind.
type FlexibleString string

func (fs *FlexibleString) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(raw, []byte("null")):
		return nil
	case bytes.Equal(raw, []byte("true")), bytes.Equal(raw, []byte("false")):
		*fs = FlexibleString(raw)
		return nil
	case len(raw) > 0 && raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*fs = FlexibleString(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return fmt.Errorf("expected string, number or boolean, got %s", raw)
	}
	*fs = FlexibleString(num.String())
	return nil
}

func (fs *FlexibleString) String() string {
	if fs == nil {
		return ""
	}
	return string(*fs)
}
