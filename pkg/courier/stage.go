// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import (
	"encoding/json"
	"io"
)

// Stage of a running synchronization, as reported by the subprocess.
type Stage string

const (
	StageCollection Stage = "COLLECTION"
	StageWait       Stage = "WAIT"
	StageDelivery   Stage = "DELIVERY"
)

// stageLine is one line of the subprocess' stdout protocol. Lines with a
// type other than "stage" are reserved for future use and must be skipped.
type stageLine struct {
	Type  string `json:"type"`
	Stage Stage  `json:"stage"`
}

// StageNotifier reports synchronization stages as JSON lines, one object per
// line, to be consumed by the parent process.
type StageNotifier struct {
	enc *json.Encoder
}

// NewStageNotifier creates a StageNotifier writing to w, usually stdout.
func NewStageNotifier(w io.Writer) *StageNotifier {
	return &StageNotifier{enc: json.NewEncoder(w)}
}

// Notify reports that the synchronization entered the given Stage.
func (sn *StageNotifier) Notify(stage Stage) error {
	return sn.enc.Encode(stageLine{Type: "stage", Stage: stage})
}

// ParseStageLine extracts the Stage from one stdout line of the subprocess.
// Lines that are not stage notifications, including unparseable ones, are
// reported as not ok.
func ParseStageLine(line []byte) (Stage, bool) {
	var sl stageLine
	if err := json.Unmarshal(line, &sl); err != nil || sl.Type != "stage" {
		return "", false
	}
	return sl.Stage, true
}
