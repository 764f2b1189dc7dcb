package config

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "tasktracker/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens
// or DSNs), and (3) the ids of tasks that were added, removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Enabled != nt.Enabled ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.RatePerMinute != nt.RatePerMinute || ot.RateBurst != nt.RateBurst ||
		(strings.TrimSpace(ot.Token) == "") != (strings.TrimSpace(nt.Token) == "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Tracker != newCfg.Tracker {
		changed = append(changed, "tracker")
		attrs = append(attrs,
			logx.String("tracker.timezone", strings.TrimSpace(newCfg.Tracker.Timezone)),
			logx.String("tracker.sweep", strings.TrimSpace(newCfg.Tracker.Sweep)),
		)
	}

	// Storage: nil means disabled. DSNs may hold credentials; only report presence.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nS.DSN) != ""),
		)
	}

	taskChanged := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(taskChanged) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.changed_count", len(taskChanged)),
			logx.Int("tasks.count", len(newCfg.Tasks)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, taskChanged
}

func diffTasks(oldT, newT []TaskConfig) []string {
	index := func(in []TaskConfig) map[string]uint64 {
		m := make(map[string]uint64, len(in))
		for _, t := range in {
			b, _ := json.Marshal(t)
			m[strings.TrimSpace(t.ID)] = hashBytes(b)
		}
		return m
	}
	om, nm := index(oldT), index(newT)

	out := make([]string, 0)
	for id, h := range nm {
		if oh, ok := om[id]; !ok || oh != h {
			out = append(out, id)
		}
	}
	for id := range om {
		if _, ok := nm[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
