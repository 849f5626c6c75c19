package session

import (
	"reflect"
	"sort"

	"github.com/daibug/daibug/pkg/models"
)

// ComputeDiff compares two sessions. All slices in the result are non-nil
// so the serialized form is stable.
func ComputeDiff(a, b *Session) Diff {
	d := Diff{
		EventDiff:       diffEvents(a.Events, b.Events),
		InteractionDiff: diffInteractions(a.Interactions, b.Interactions),
		NetworkDiff:     diffNetwork(a.Events, b.Events),
		StorageDiff:     diffStorage(a.StorageSnapshots, b.StorageSnapshots),
	}
	d.Summary.Identical = d.EventDiff.Empty() &&
		d.InteractionDiff.Empty() &&
		d.NetworkDiff.Empty() &&
		d.StorageDiff.Empty()
	if !d.Summary.Identical {
		d.Summary.DivergesAt = divergencePoint(a.Events, b.Events)
	}
	return d
}

func diffEvents(a, b []models.Event) EventDiff {
	d := EventDiff{
		OnlyInA:   []models.Event{},
		OnlyInB:   []models.Event{},
		Different: []EventFieldDiff{},
	}
	byIDB := make(map[string]models.Event, len(b))
	for _, e := range b {
		byIDB[e.ID] = e
	}
	seenInA := make(map[string]struct{}, len(a))
	for _, ea := range a {
		seenInA[ea.ID] = struct{}{}
		eb, ok := byIDB[ea.ID]
		if !ok {
			d.OnlyInA = append(d.OnlyInA, ea.Clone())
			continue
		}
		if fields := changedEventFields(ea, eb); len(fields) > 0 {
			d.Different = append(d.Different, EventFieldDiff{ID: ea.ID, Fields: fields})
		}
	}
	for _, eb := range b {
		if _, ok := seenInA[eb.ID]; !ok {
			d.OnlyInB = append(d.OnlyInB, eb.Clone())
		}
	}
	return d
}

func changedEventFields(a, b models.Event) []string {
	var fields []string
	if a.Source != b.Source {
		fields = append(fields, "source")
	}
	if a.Level != b.Level {
		fields = append(fields, "level")
	}
	if a.TS != b.TS {
		fields = append(fields, "ts")
	}
	if !reflect.DeepEqual(a.Payload, b.Payload) {
		fields = append(fields, "payload")
	}
	return fields
}

func diffInteractions(a, b []models.Interaction) InteractionDiff {
	d := InteractionDiff{
		OnlyInA: []models.Interaction{},
		OnlyInB: []models.Interaction{},
	}
	idsA := make(map[string]struct{}, len(a))
	for _, i := range a {
		idsA[i.ID] = struct{}{}
	}
	idsB := make(map[string]struct{}, len(b))
	for _, i := range b {
		idsB[i.ID] = struct{}{}
	}
	for _, i := range a {
		if _, ok := idsB[i.ID]; !ok {
			d.OnlyInA = append(d.OnlyInA, i.Clone())
		}
	}
	for _, i := range b {
		if _, ok := idsA[i.ID]; !ok {
			d.OnlyInB = append(d.OnlyInB, i.Clone())
		}
	}

	limit := len(a)
	if len(b) < limit {
		limit = len(b)
	}
	for idx := 0; idx < limit; idx++ {
		if !sameInteractionSignature(a[idx], b[idx]) {
			i := idx
			d.FirstMismatchIndex = &i
			return d
		}
	}
	if len(a) != len(b) {
		i := limit
		d.FirstMismatchIndex = &i
	}
	return d
}

// sameInteractionSignature compares the positional identity of an
// interaction: what happened and where, ignoring ids and timestamps.
func sameInteractionSignature(a, b models.Interaction) bool {
	return a.Type == b.Type &&
		a.Target == b.Target &&
		a.Value == b.Value &&
		a.URL == b.URL &&
		floatPtrEqual(a.X, b.X) &&
		floatPtrEqual(a.Y, b.Y)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func diffNetwork(a, b []models.Event) NetworkDiff {
	d := NetworkDiff{
		EndpointsOnlyInA:  []string{},
		EndpointsOnlyInB:  []string{},
		StatusDifferences: []StatusDiff{},
	}
	statusA := firstSeenStatus(a)
	statusB := firstSeenStatus(b)

	for url, sa := range statusA {
		sb, shared := statusB[url]
		if !shared {
			d.EndpointsOnlyInA = append(d.EndpointsOnlyInA, url)
			continue
		}
		if sa != sb {
			d.StatusDifferences = append(d.StatusDifferences, StatusDiff{URL: url, StatusA: sa, StatusB: sb})
		}
	}
	for url := range statusB {
		if _, shared := statusA[url]; !shared {
			d.EndpointsOnlyInB = append(d.EndpointsOnlyInB, url)
		}
	}

	sort.Strings(d.EndpointsOnlyInA)
	sort.Strings(d.EndpointsOnlyInB)
	sort.Slice(d.StatusDifferences, func(i, j int) bool {
		return d.StatusDifferences[i].URL < d.StatusDifferences[j].URL
	})
	return d
}

// firstSeenStatus maps each network URL to the status of its first request,
// in (ts, id) order.
func firstSeenStatus(events []models.Event) map[string]int {
	out := make(map[string]int)
	for _, e := range SortEvents(events) {
		if e.Source != models.SourceBrowserNetwork {
			continue
		}
		url, ok := e.Payload["url"].(string)
		if !ok || url == "" {
			continue
		}
		status, ok := numericStatus(e.Payload)
		if !ok {
			continue
		}
		if _, seen := out[url]; !seen {
			out[url] = status
		}
	}
	return out
}

func diffStorage(a, b []models.StorageSnapshot) StorageDiff {
	d := StorageDiff{
		OnlyInA:   map[string]string{},
		OnlyInB:   map[string]string{},
		Different: []StorageValueDiff{},
	}
	flatA := flattenStorage(a)
	flatB := flattenStorage(b)

	for k, va := range flatA {
		vb, shared := flatB[k]
		if !shared {
			d.OnlyInA[k] = va
			continue
		}
		if va != vb {
			d.Different = append(d.Different, StorageValueDiff{Key: k, ValueA: va, ValueB: vb})
		}
	}
	for k, vb := range flatB {
		if _, shared := flatA[k]; !shared {
			d.OnlyInB[k] = vb
		}
	}
	sort.Slice(d.Different, func(i, j int) bool { return d.Different[i].Key < d.Different[j].Key })
	return d
}

// flattenStorage merges snapshots oldest-first into one key/value view;
// within a snapshot localStorage wins over sessionStorage.
func flattenStorage(snaps []models.StorageSnapshot) map[string]string {
	out := make(map[string]string)
	for _, s := range snaps {
		for k, v := range s.SessionStorage {
			out[k] = v
		}
		for k, v := range s.LocalStorage {
			out[k] = v
		}
	}
	return out
}

// divergencePoint is the smallest ts at which the two event sequences part
// ways: the first positional mismatch by id, or the first extra event of
// the longer sequence.
func divergencePoint(a, b []models.Event) *int64 {
	sa := SortEvents(a)
	sb := SortEvents(b)

	limit := len(sa)
	if len(sb) < limit {
		limit = len(sb)
	}
	for i := 0; i < limit; i++ {
		if sa[i].ID != sb[i].ID {
			ts := sa[i].TS
			if sb[i].TS < ts {
				ts = sb[i].TS
			}
			return &ts
		}
	}
	if len(sa) > limit {
		ts := sa[limit].TS
		return &ts
	}
	if len(sb) > limit {
		ts := sb[limit].TS
		return &ts
	}
	return nil
}
