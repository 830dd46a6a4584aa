package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/agentvisor/internal/store"
)

var (
	ErrDuplicate       = errors.New("agent already exists")
	ErrNotFound        = errors.New("agent not found")
	ErrInvalidName     = errors.New("invalid agent base name")
	ErrUnknownWorkUnit = errors.New("unknown work unit")
)

// WorkUnit names the recurring job an agent runs.
type WorkUnit string

const (
	DAOTreasury         WorkUnit = "DAO_TREASURY"
	RetailYield         WorkUnit = "RETAIL_YIELD"
	AlphaDetection      WorkUnit = "ALPHA_DETECTION"
	PredictionArbitrage WorkUnit = "PREDICTION_ARBITRAGE"
	ColosseumForum      WorkUnit = "COLOSSEUM_FORUM"
)

var roles = map[WorkUnit]string{
	DAOTreasury:         "dao",
	RetailYield:         "yield",
	AlphaDetection:      "alpha",
	PredictionArbitrage: "prediction",
	ColosseumForum:      "forum",
}

// WorkUnits returns every known work unit in declaration order.
func WorkUnits() []WorkUnit {
	return []WorkUnit{DAOTreasury, RetailYield, AlphaDetection, PredictionArbitrage, ColosseumForum}
}

// Role returns the short role code used as the agent name suffix.
func (u WorkUnit) Role() string { return roles[u] }

func (u WorkUnit) Valid() bool {
	_, ok := roles[u]
	return ok
}

func (u WorkUnit) String() string { return string(u) }

// ParseWorkUnit accepts a work unit name in any case ("alpha_detection") or its
// role code ("alpha").
func ParseWorkUnit(s string) (WorkUnit, error) {
	v := strings.TrimSpace(s)
	u := WorkUnit(strings.ToUpper(strings.ReplaceAll(v, "-", "_")))
	if u.Valid() {
		return u, nil
	}
	lv := strings.ToLower(v)
	for wu, role := range roles {
		if role == lv {
			return wu, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownWorkUnit, s)
}

// NameFor derives the agent name from its base name and work unit.
func NameFor(baseName string, unit WorkUnit) string {
	return baseName + "-" + unit.Role()
}

// Definition is the persisted description of one agent. It never changes after creation.
type Definition struct {
	Name      string    `json:"name"`
	BaseName  string    `json:"baseName"`
	Role      string    `json:"role"`
	WorkUnit  WorkUnit  `json:"workUnit"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks a definition loaded from storage.
func (d Definition) Validate() error {
	if !store.ValidKey(d.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, d.Name)
	}
	if !d.WorkUnit.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownWorkUnit, d.WorkUnit)
	}
	return nil
}
