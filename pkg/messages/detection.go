// Package messages defines the wire records the inference backend streams to the view
package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Variant selects which inbound record schema the view expects
type Variant string

const (
	// VariantScore frames carry only a score: {"score": 0.83}
	VariantScore Variant = "score"
	// VariantClassified frames carry a score plus classification metadata
	VariantClassified Variant = "classified"
)

// Decode error kinds
var (
	ErrMalformed      = errors.New("malformed message")
	ErrInvalidPayload = errors.New("invalid payload")
)

// ParseVariant parses a variant name
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "score", "v1", "1":
		return VariantScore, nil
	case "classified", "v2", "2":
		return VariantClassified, nil
	default:
		return "", fmt.Errorf("unknown variant %q (valid: score, classified)", s)
	}
}

// ScoreMessage is the variant 1 record
type ScoreMessage struct {
	Score     float64 `json:"score"`
	Timestamp int64   `json:"timestamp,omitempty"` // Unix millis, informational
}

// DetectionInfo is the variant 2 record
type DetectionInfo struct {
	Score     float64 `json:"score"`
	Timestamp string  `json:"timestamp,omitempty"` // Producer capture time
	UAVType   string  `json:"uav_type,omitempty"`  // Classified object category
}

// scoreFrame is the variant 1 schema; unknown fields are ignored
type scoreFrame struct {
	Score *float64 `json:"score"`
}

// classifiedFrame is the variant 2 schema with presence tracking
type classifiedFrame struct {
	Score     *float64         `json:"score"`
	Timestamp *json.RawMessage `json:"timestamp"`
	UAVType   *string          `json:"uav_type"`
}

// Decode parses and validates one inbound frame.
// Returned errors wrap ErrMalformed or ErrInvalidPayload.
func Decode(v Variant, data []byte) (DetectionInfo, error) {
	if !json.Valid(data) {
		return DetectionInfo{}, fmt.Errorf("%w: not valid JSON", ErrMalformed)
	}
	if !strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		return DetectionInfo{}, fmt.Errorf("%w: expected a JSON object", ErrInvalidPayload)
	}

	switch v {
	case VariantScore:
		var frame scoreFrame
		if err := unmarshalPayload(data, &frame); err != nil {
			return DetectionInfo{}, err
		}
		if frame.Score == nil {
			return DetectionInfo{}, fmt.Errorf("%w: missing score", ErrInvalidPayload)
		}
		return DetectionInfo{Score: *frame.Score}, nil

	case VariantClassified:
		var frame classifiedFrame
		if err := unmarshalPayload(data, &frame); err != nil {
			return DetectionInfo{}, err
		}
		if frame.Score == nil {
			return DetectionInfo{}, fmt.Errorf("%w: missing score", ErrInvalidPayload)
		}
		if frame.UAVType == nil || *frame.UAVType == "" {
			return DetectionInfo{}, fmt.Errorf("%w: missing uav_type", ErrInvalidPayload)
		}

		info := DetectionInfo{Score: *frame.Score, UAVType: *frame.UAVType}
		if frame.Timestamp != nil && string(*frame.Timestamp) != "null" {
			if err := json.Unmarshal(*frame.Timestamp, &info.Timestamp); err != nil {
				return DetectionInfo{}, fmt.Errorf("%w: timestamp must be a string", ErrInvalidPayload)
			}
		}
		return info, nil

	default:
		return DetectionInfo{}, fmt.Errorf("unknown variant %q", v)
	}
}

func unmarshalPayload(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: field %q has type %s", ErrInvalidPayload, typeErr.Field, typeErr.Value)
		}
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Encode marshals a record in the wire shape of the given variant
func Encode(v Variant, info DetectionInfo, capturedAtMillis int64) ([]byte, error) {
	switch v {
	case VariantScore:
		return json.Marshal(ScoreMessage{Score: info.Score, Timestamp: capturedAtMillis})
	case VariantClassified:
		return json.Marshal(info)
	default:
		return nil, fmt.Errorf("unknown variant %q", v)
	}
}
