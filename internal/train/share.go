package train

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"traincommander/internal/model"
)

// ErrInvalidShareCode means a share code could not be decoded into a train.
var ErrInvalidShareCode = errors.New("train: invalid share code")

// Share codes carry only the authoring fields; schedule snapshots and
// mechanics stay local.
type shareStep struct {
	Title        *string `json:"Title"`
	Description  *string `json:"Description"`
	WaypointCode *string `json:"WaypointCode"`
	SquadMessage *string `json:"SquadMessage"`
}

type shareTrain struct {
	Name   *string     `json:"Name"`
	Author *string     `json:"Author"`
	Steps  []shareStep `json:"steps"`
}

// Encode renders t as compact JSON in standard, padded base64.
func Encode(t model.TrainTemplate) (string, error) {
	st := shareTrain{
		Name:   &t.Name,
		Author: &t.Author,
		Steps:  make([]shareStep, len(t.Steps)),
	}
	for i := range t.Steps {
		s := &t.Steps[i]
		st.Steps[i] = shareStep{
			Title:        &s.Title,
			Description:  &s.Description,
			WaypointCode: &s.WaypointCode,
			SquadMessage: &s.SquadMessage,
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&st); err != nil {
		return "", fmt.Errorf("encode share code: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// Decode parses a share code. Any failure returns ErrInvalidShareCode and a
// zero train; a partially decoded train is never returned.
func Decode(code string) (model.TrainTemplate, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(code))
	if err != nil {
		return model.TrainTemplate{}, fmt.Errorf("%w: %v", ErrInvalidShareCode, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return model.TrainTemplate{}, fmt.Errorf("%w: payload is not a JSON object", ErrInvalidShareCode)
	}

	var st shareTrain
	if err := json.Unmarshal(raw, &st); err != nil {
		return model.TrainTemplate{}, fmt.Errorf("%w: %v", ErrInvalidShareCode, err)
	}

	t := model.TrainTemplate{
		Name:   valueOr(st.Name, "Imported Train"),
		Author: valueOr(st.Author, "Unknown"),
		Steps:  make([]model.TrainStep, 0, len(st.Steps)),
	}
	for _, s := range st.Steps {
		t.Steps = append(t.Steps, model.TrainStep{
			Title:          valueOr(s.Title, "Step"),
			Description:    valueOr(s.Description, ""),
			WaypointCode:   valueOr(s.WaypointCode, ""),
			SquadMessage:   valueOr(s.SquadMessage, ""),
			SpawnMinuteUTC: model.NoSpawn,
		})
	}
	return t, nil
}

func valueOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
