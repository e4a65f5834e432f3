package review

// The workflow is encoded as a flat transition table: one row per legal
// (from, to) state pair, looked up by exact match. No state objects, no
// inheritance; adding a transition is adding a row.

// Transition is one legal edge of the workflow graph.
type Transition struct {
	Name           string
	Kind           Kind
	From           Status
	FromResolution Resolution
	To             Status
	ToResolution   Resolution

	// Internal transitions are reachable only by housekeeping (analysis
	// re-tracking, component removal), never through ChangeStatus.
	Internal bool
}

// Transition names exposed in changelogs and metrics.
const (
	TransitionResolveAsReviewed     = "resolveAsReviewed"
	TransitionResolveAsSafe         = "resolveAsSafe"
	TransitionResolveAsAcknowledged = "resolveAsAcknowledged"
	TransitionResetAsToReview       = "resetAsToReview"
	TransitionConfirm               = "confirm"
	TransitionUnconfirm             = "unconfirm"
	TransitionResolve               = "resolve"
	TransitionFalsePositive         = "falsepositive"
	TransitionWontFix               = "wontfix"
	TransitionReopen                = "reopen"
	TransitionAutomaticClose        = "automaticClose"
	TransitionCloseAsRemoved        = "closeAsRemoved"
)

var hotspotReviewedResolutions = []Resolution{ResolutionFixed, ResolutionSafe, ResolutionAcknowledged}
var issueResolvedResolutions = []Resolution{ResolutionFixed, ResolutionFalsePositive, ResolutionWontFix}
var issueOpenStatuses = []Status{StatusOpen, StatusReopened, StatusConfirmed}

var transitions = buildTransitions()

func buildTransitions() []Transition {
	var t []Transition

	// Hotspots: TO_REVIEW <-> REVIEWED{FIXED|SAFE|ACKNOWLEDGED}, plus moving
	// between reviewed resolutions directly.
	hotspotResolveName := map[Resolution]string{
		ResolutionFixed:        TransitionResolveAsReviewed,
		ResolutionSafe:         TransitionResolveAsSafe,
		ResolutionAcknowledged: TransitionResolveAsAcknowledged,
	}
	for _, to := range hotspotReviewedResolutions {
		t = append(t, Transition{
			Name: hotspotResolveName[to], Kind: KindHotspot,
			From: StatusToReview, To: StatusReviewed, ToResolution: to,
		})
		for _, from := range hotspotReviewedResolutions {
			if from == to {
				continue
			}
			t = append(t, Transition{
				Name: hotspotResolveName[to], Kind: KindHotspot,
				From: StatusReviewed, FromResolution: from,
				To: StatusReviewed, ToResolution: to,
			})
		}
	}
	for _, from := range hotspotReviewedResolutions {
		t = append(t, Transition{
			Name: TransitionResetAsToReview, Kind: KindHotspot,
			From: StatusReviewed, FromResolution: from,
			To: StatusToReview,
		})
	}

	// Issues: confirm/unconfirm, resolve in three flavours, reopen.
	issueResolveName := map[Resolution]string{
		ResolutionFixed:         TransitionResolve,
		ResolutionFalsePositive: TransitionFalsePositive,
		ResolutionWontFix:       TransitionWontFix,
	}
	for _, from := range []Status{StatusOpen, StatusReopened} {
		t = append(t, Transition{
			Name: TransitionConfirm, Kind: KindIssue,
			From: from, To: StatusConfirmed,
		})
	}
	t = append(t, Transition{
		Name: TransitionUnconfirm, Kind: KindIssue,
		From: StatusConfirmed, To: StatusReopened,
	})
	for _, from := range issueOpenStatuses {
		for res, name := range issueResolveName {
			t = append(t, Transition{
				Name: name, Kind: KindIssue,
				From: from, To: StatusResolved, ToResolution: res,
			})
		}
	}
	for _, from := range issueResolvedResolutions {
		t = append(t, Transition{
			Name: TransitionReopen, Kind: KindIssue,
			From: StatusResolved, FromResolution: from,
			To: StatusReopened,
		})
	}

	// Internal closes, reachable from every non-closed state of both kinds.
	for _, kind := range []Kind{KindHotspot, KindIssue} {
		for _, pair := range nonClosedPairs(kind) {
			t = append(t, Transition{
				Name: TransitionAutomaticClose, Kind: kind, Internal: true,
				From: pair.status, FromResolution: pair.resolution,
				To: StatusClosed, ToResolution: ResolutionFixed,
			})
			t = append(t, Transition{
				Name: TransitionCloseAsRemoved, Kind: kind, Internal: true,
				From: pair.status, FromResolution: pair.resolution,
				To: StatusClosed, ToResolution: ResolutionRemoved,
			})
		}
	}
	return t
}

type statePair struct {
	status     Status
	resolution Resolution
}

func nonClosedPairs(kind Kind) []statePair {
	if kind == KindHotspot {
		pairs := []statePair{{StatusToReview, ResolutionNone}}
		for _, r := range hotspotReviewedResolutions {
			pairs = append(pairs, statePair{StatusReviewed, r})
		}
		return pairs
	}
	pairs := []statePair{}
	for _, s := range issueOpenStatuses {
		pairs = append(pairs, statePair{s, ResolutionNone})
	}
	for _, r := range issueResolvedResolutions {
		pairs = append(pairs, statePair{StatusResolved, r})
	}
	return pairs
}

// LookupTransition finds the externally reachable transition between two
// states. Internal transitions are excluded: ChangeStatus must not be able to
// close records.
func LookupTransition(kind Kind, from Status, fromRes Resolution, to Status, toRes Resolution) (Transition, bool) {
	for _, t := range transitions {
		if t.Internal {
			continue
		}
		if t.Kind == kind && t.From == from && t.FromResolution == fromRes && t.To == to && t.ToResolution == toRes {
			return t, true
		}
	}
	return Transition{}, false
}

// LookupCloseTransition finds the internal transition closing a record with
// the given terminal resolution (FIXED or REMOVED).
func LookupCloseTransition(kind Kind, from Status, fromRes Resolution, terminal Resolution) (Transition, bool) {
	for _, t := range transitions {
		if !t.Internal || t.To != StatusClosed {
			continue
		}
		if t.Kind == kind && t.From == from && t.FromResolution == fromRes && t.ToResolution == terminal {
			return t, true
		}
	}
	return Transition{}, false
}

// PublicStatuses lists the target statuses ChangeStatus accepts per kind.
func PublicStatuses(kind Kind) []Status {
	if kind == KindHotspot {
		return []Status{StatusToReview, StatusReviewed}
	}
	return []Status{StatusOpen, StatusConfirmed, StatusResolved, StatusReopened}
}

// PublicResolutions lists the resolutions ChangeStatus accepts per kind.
func PublicResolutions(kind Kind) []Resolution {
	if kind == KindHotspot {
		return hotspotReviewedResolutions
	}
	return issueResolvedResolutions
}

// CanAssign reports whether the record's current state permits changing the
// assignee. Hotspots are only assignable while still actionable: under review
// or acknowledged. Issues stay assignable until they close.
func CanAssign(kind Kind, status Status, resolution Resolution) bool {
	if status == StatusClosed {
		return false
	}
	if kind == KindIssue {
		return true
	}
	if status == StatusToReview {
		return true
	}
	return status == StatusReviewed && resolution == ResolutionAcknowledged
}
