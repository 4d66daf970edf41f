// Package differ computes the bounded delta between consecutive snapshots.
// Identity is a stable hash over the fields that survive re-renders; the
// differ owns a hash cache which it replaces wholesale on every call.
package differ

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

// minUnchangedCap floors the dynamic retention budget for unchanged
// elements: max(minUnchangedCap, 20% of unchanged) bounded by the ceiling.
const minUnchangedCap = 100

var interactiveTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true,
	"textarea": true, "option": true, "label": true, "form": true,
	"details": true, "summary": true,
}

// Differ is stateful across calls but owned by a single pipeline; it is not
// safe for concurrent use.
type Differ struct {
	cfg    config.DifferConfig
	logger *zap.Logger

	prev    map[string]schemas.ElementDescriptor
	hasPrev bool
}

func New(cfg config.DifferConfig, logger *zap.Logger) *Differ {
	return &Differ{cfg: cfg, logger: logger.Named("differ")}
}

// Reset drops the hash cache so the next Compute is treated as a first
// capture. Callers use it after hard navigations.
func (d *Differ) Reset() {
	d.prev = nil
	d.hasPrev = false
}

// Compute partitions the snapshot's elements against the previous call's
// cache. Every current element lands in exactly one of added, modified, or
// unchanged (the latter importance-filtered and capped); removed carries the
// hashes that vanished.
func (d *Differ) Compute(snap *schemas.Snapshot) *schemas.Diff {
	current := make(map[string]schemas.ElementDescriptor, len(snap.Elements))
	order := make([]string, 0, len(snap.Elements))
	for _, el := range snap.Elements {
		h := d.hash(el)
		if _, dup := current[h]; dup {
			continue
		}
		current[h] = el
		order = append(order, h)
	}

	diff := &schemas.Diff{
		Added:     []schemas.ElementDescriptor{},
		Removed:   []string{},
		Modified:  []schemas.ModifiedElement{},
		Unchanged: []schemas.ElementDescriptor{},
	}

	if !d.hasPrev {
		for _, h := range order {
			diff.Added = append(diff.Added, current[h])
		}
		diff.Metadata = schemas.DiffMetadata{
			ChangeRatio:  1.0,
			AddedCount:   len(diff.Added),
			TotalCurrent: len(current),
		}
		d.replace(current)
		return diff
	}

	var unchangedPool []schemas.ElementDescriptor
	for _, h := range order {
		el := current[h]
		before, existed := d.prev[h]
		if !existed {
			diff.Added = append(diff.Added, el)
			continue
		}
		if changes := d.volatileDelta(before, el); len(changes) > 0 {
			diff.Modified = append(diff.Modified, schemas.ModifiedElement{
				ElementDescriptor: el,
				Changes:           changes,
			})
			continue
		}
		unchangedPool = append(unchangedPool, el)
	}

	for h := range d.prev {
		if _, still := current[h]; !still {
			diff.Removed = append(diff.Removed, h)
		}
	}

	diff.Unchanged = d.retainImportant(unchangedPool)

	changed := len(diff.Added) + len(diff.Removed) + len(diff.Modified)
	denom := changed + len(unchangedPool)
	ratio := 0.0
	if denom > 0 {
		ratio = float64(changed) / float64(denom)
	}
	diff.Metadata = schemas.DiffMetadata{
		ChangeRatio:    ratio,
		AddedCount:     len(diff.Added),
		RemovedCount:   len(diff.Removed),
		ModifiedCount:  len(diff.Modified),
		UnchangedCount: len(unchangedPool),
		TotalCurrent:   len(current),
	}

	d.logger.Debug("Diff computed",
		zap.Int("added", diff.Metadata.AddedCount),
		zap.Int("removed", diff.Metadata.RemovedCount),
		zap.Int("modified", diff.Metadata.ModifiedCount),
		zap.Int("unchanged", diff.Metadata.UnchangedCount),
		zap.Float64("changeRatio", ratio))

	d.replace(current)
	return diff
}

func (d *Differ) replace(current map[string]schemas.ElementDescriptor) {
	d.prev = current
	d.hasPrev = true
}

// positionBucket is the fixed rounding granularity for the position component
// of the identity hash. It is independent of PositionThreshold: a move past a
// bucket boundary changes identity (removed + added), while a smaller drift
// keeps the hash and is classified by volatileDelta against the threshold.
const positionBucket = 10.0

// hash keys an element on the fields that survive re-renders: tag, id, class
// list, a text prefix, and position rounded to 10-unit buckets.
func (d *Differ) hash(el schemas.ElementDescriptor) string {
	h := fnv.New64a()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{'|'})
	}
	write(el.Tag)
	write(el.ID)
	write(strings.Join(el.ClassList, " "))
	write(prefixRunes(el.Text, d.cfg.TextPrefixLen))

	write(fmt.Sprintf("%d,%d",
		int64(math.Round(el.Position.X/positionBucket)),
		int64(math.Round(el.Position.Y/positionBucket))))
	return fmt.Sprintf("%016x", h.Sum64())
}

// volatileDelta compares the fields excluded from the hash. A non-empty map
// means "modified"; keys name the field, values describe the transition.
func (d *Differ) volatileDelta(before, after schemas.ElementDescriptor) map[string]string {
	changes := make(map[string]string)

	if before.Text != after.Text {
		changes["text"] = fmt.Sprintf("%q -> %q", clip(before.Text), clip(after.Text))
	}
	// Fires only for thresholds below positionBucket: a move larger than the
	// bucket width already lands in a new hash bucket and never reaches here.
	dx := math.Abs(after.Position.X - before.Position.X)
	dy := math.Abs(after.Position.Y - before.Position.Y)
	if dx > d.cfg.PositionThreshold || dy > d.cfg.PositionThreshold {
		changes["position"] = fmt.Sprintf("(%.0f,%.0f) -> (%.0f,%.0f)",
			before.Position.X, before.Position.Y, after.Position.X, after.Position.Y)
	}
	if before.Visibility.Display != after.Visibility.Display {
		changes["display"] = before.Visibility.Display + " -> " + after.Visibility.Display
	}
	if before.InteractionState != after.InteractionState {
		changes["interactionState"] = fmt.Sprintf("%+v -> %+v", before.InteractionState, after.InteractionState)
	}
	if !attrsEqual(before.Attributes, after.Attributes) {
		changes["attributes"] = fmt.Sprintf("%d keys -> %d keys", len(before.Attributes), len(after.Attributes))
	}

	if len(changes) == 0 {
		return nil
	}
	return changes
}

// retainImportant filters the unchanged pool down to elements still worth
// showing the model, then applies the dynamic cap.
func (d *Differ) retainImportant(pool []schemas.ElementDescriptor) []schemas.ElementDescriptor {
	budget := minUnchangedCap
	if dynamic := len(pool) / 5; dynamic > budget {
		budget = dynamic
	}
	if budget > d.cfg.UnchangedCeiling {
		budget = d.cfg.UnchangedCeiling
	}

	out := []schemas.ElementDescriptor{}
	for _, el := range pool {
		if len(out) >= budget {
			break
		}
		if isImportant(el) {
			out = append(out, el)
		}
	}
	return out
}

func isImportant(el schemas.ElementDescriptor) bool {
	if interactiveTags[el.Tag] {
		return true
	}
	if el.Position.InViewport {
		return true
	}
	if el.ID != "" {
		return true
	}
	for _, key := range []string{"role", "data-testid", "data-test-id", "data-test", "aria-label"} {
		if _, ok := el.Attributes[key]; ok {
			return true
		}
	}
	return el.FormID != ""
}

func attrsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func prefixRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func clip(s string) string {
	return prefixRunes(s, 40)
}
