package redis

import (
	"strings"

	"github.com/joomcode/errorx"
)

// ReadFrom is a read preference: it decides which node of master/replica set serves read-only command.
// Write commands are always sent to master.
type ReadFrom int

const (
	// ReadFromMaster sends all commands to master.
	ReadFromMaster ReadFrom = iota
	// ReadFromMasterPreferred reads from master, and falls back to replicas while master is unavailable.
	ReadFromMasterPreferred
	// ReadFromReplica reads only from replicas. Read fails if no replica is connected.
	ReadFromReplica
	// ReadFromReplicaPreferred reads from replicas, and falls back to master if no replica is connected.
	ReadFromReplicaPreferred
)

// EKPolicy - read policy used for request
var EKPolicy = errorx.RegisterPrintableProperty("policy")

var readFromNames = [...]string{
	ReadFromMaster:           "master",
	ReadFromMasterPreferred:  "masterPreferred",
	ReadFromReplica:          "replica",
	ReadFromReplicaPreferred: "replicaPreferred",
}

func (r ReadFrom) String() string {
	if r >= 0 && int(r) < len(readFromNames) {
		return readFromNames[r]
	}
	return "unknown"
}

// ParseReadFrom parses name of read preference.
// Names are case-insensitive; "upstream" is accepted as synonym of "master" and "slave" of "replica".
func ParseReadFrom(s string) (ReadFrom, error) {
	norm := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch norm {
	case "", "master", "upstream":
		return ReadFromMaster, nil
	case "masterpreferred", "upstreampreferred":
		return ReadFromMasterPreferred, nil
	case "replica", "slave":
		return ReadFromReplica, nil
	case "replicapreferred", "slavepreferred":
		return ReadFromReplicaPreferred, nil
	}
	return ReadFromMaster, ErrReadFrom.New("unknown read preference %q", s)
}

// Valid reports that r is one of known read preferences.
func (r ReadFrom) Valid() bool {
	return r >= ReadFromMaster && r <= ReadFromReplicaPreferred
}

// CheckReadFrom returns ErrReadFrom if r is not a known read preference.
func CheckReadFrom(r ReadFrom) error {
	if !r.Valid() {
		return ErrReadFrom.New("unknown read preference %d", int(r)).WithProperty(EKPolicy, r)
	}
	return nil
}

// AllowsMaster returns true if master could serve read command under this policy.
func (r ReadFrom) AllowsMaster() bool {
	return r != ReadFromReplica
}

// AllowsReplica returns true if replica could serve read command under this policy.
func (r ReadFrom) AllowsReplica() bool {
	return r != ReadFromMaster
}
