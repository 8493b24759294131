package queue

import "strings"

// Keys builds the namespaced coordination-store key layout:
//
//	<ns>:tasks                          work list
//	<ns>:pending                        pending set
//	<ns>:failed                         failed list
//	<ns>:processed:<source>:<episode>   processed record (TTL)
//	<ns>:stats:<source>:<status>        counters
//	<ns>:stats:<source>:updated         last stats change
//	<ns>:scan:cursor                    scanner resume point
//	<ns>:done:<identity>                completion record (TTL)
//	<ns>:error:<identity>               failure record (TTL)
type Keys struct {
	ns string
}

// NewKeys returns a key builder for the given namespace, defaulting to
// "loom" when blank.
func NewKeys(namespace string) Keys {
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		ns = "loom"
	}
	return Keys{ns: ns}
}

func (k Keys) Tasks() string   { return k.ns + ":tasks" }
func (k Keys) Pending() string { return k.ns + ":pending" }
func (k Keys) Failed() string  { return k.ns + ":failed" }

func (k Keys) Processed(source, episodeID string) string {
	return k.ns + ":processed:" + source + ":" + episodeID
}

func (k Keys) StatsCounter(source, status string) string {
	return k.ns + ":stats:" + source + ":" + status
}

func (k Keys) StatsUpdated(source string) string {
	return k.ns + ":stats:" + source + ":updated"
}

func (k Keys) ScanCursor() string { return k.ns + ":scan:cursor" }

func (k Keys) Done(identity string) string  { return k.ns + ":done:" + identity }
func (k Keys) Error(identity string) string { return k.ns + ":error:" + identity }
