package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdPause       CommandType = "pause"
	CmdResume      CommandType = "resume"
	CmdResetCity   CommandType = "reset_city"
	CmdRunBackfill CommandType = "run_backfill"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	City string `json:"city,omitempty"`
}
