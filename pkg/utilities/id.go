package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

func snowflakeNode() *snowflake.Node {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				nodeID = n
			}
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			// node id out of range; fall back to the default node
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
	return node
}

// NewSnowflakeID generates a snowflake ID as int64, suitable for primary
// keys generated app-side. The node ID comes from SNOWFLAKE_NODE (default 1).
func NewSnowflakeID() int64 {
	return snowflakeNode().Generate().Int64()
}

// NewSnowflakeIDString generates a snowflake ID string.
func NewSnowflakeIDString() string {
	return snowflakeNode().Generate().String()
}
