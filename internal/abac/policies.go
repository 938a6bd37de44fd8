package abac

import (
	"fmt"
	"strings"
	"time"
)

// Built-in policy ids.
const (
	PolicyOwnershipAccess    = "ownership-access"
	PolicyChapterMembership  = "chapter-membership"
	PolicyBusinessHours      = "business-hours"
	PolicyEventCapacity      = "event-capacity"
	PolicyRoleHierarchy      = "role-hierarchy"
	PolicyEventTiming        = "event-timing"
	PolicyResourceVisibility = "resource-visibility"
)

// Attribute keys read by the built-in policies.
const (
	AttrUserID              = "id"
	AttrUserChapterIDs      = "chapterIds"
	AttrUserHierarchyLevel  = "hierarchyLevel"
	AttrUserIsMember        = "isMember"
	AttrUserIsOwner         = "isOwner"
	AttrOwnerID             = "ownerId"
	AttrChapterID           = "chapterId"
	AttrCurrentAttendees    = "currentAttendees"
	AttrMaxCapacity         = "maxCapacity"
	AttrTargetUserHierarchy = "targetUserHierarchy"
	AttrEventStartTime      = "eventStartTime"
	AttrVisibility          = "visibility"
	AttrActionType          = "type"
)

// BusinessHours is the daily window, as whole hours, checked by the business-hours
// policy. Start is inclusive and End exclusive.
type BusinessHours struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

// DefaultBusinessHours is 08:00 to 18:00 in the process's local zone.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{StartHour: 8, EndHour: 18, Location: time.Local}
}

// Contains reports whether t falls inside the window.
func (b BusinessHours) Contains(t time.Time) bool {
	loc := b.Location
	if loc == nil {
		loc = time.Local
	}
	hour := t.In(loc).Hour()
	return hour >= b.StartHour && hour < b.EndHour
}

// BuiltinPolicies returns a fresh set of the built-in policies keyed by id.
func BuiltinPolicies(hours BusinessHours) map[string]Policy {
	return map[string]Policy{
		PolicyOwnershipAccess: {
			Description: "Permits access when the user owns the resource",
			Rule:        ownershipAccess,
		},
		PolicyChapterMembership: {
			Description: "Permits access when the user belongs to the resource's chapter",
			Rule:        chapterMembership,
		},
		PolicyBusinessHours: {
			Description: fmt.Sprintf("Permits access between %02d:00 and %02d:00", hours.StartHour, hours.EndHour),
			Rule:        businessHours(hours),
		},
		PolicyEventCapacity: {
			Description: "Permits registration while the event has free capacity",
			Rule:        eventCapacity,
		},
		PolicyRoleHierarchy: {
			Description: "Permits acting on users of strictly lower hierarchy level",
			Rule:        roleHierarchy,
		},
		PolicyEventTiming: {
			Description: "Permits RSVP, cancel and modify actions before their cutoff",
			Rule:        eventTiming,
		},
		PolicyResourceVisibility: {
			Description: "Permits access according to the resource's visibility",
			Rule:        resourceVisibility,
		},
	}
}

func ownershipAccess(ec EvaluationContext) (Decision, error) {
	userID, okUser, err := ec.User.Int64(AttrUserID)
	if err != nil {
		return Decision{}, err
	}
	ownerID, okOwner, err := ec.Resource.Int64(AttrOwnerID)
	if err != nil {
		return Decision{}, err
	}
	if !okUser || !okOwner {
		return NotApplicableDecision("Missing user or owner information"), nil
	}
	if userID == ownerID {
		return PermitDecision("User owns the resource"), nil
	}
	return DenyDecision("User does not own the resource"), nil
}

func chapterMembership(ec EvaluationContext) (Decision, error) {
	chapters, okUser, err := ec.User.Int64Set(AttrUserChapterIDs)
	if err != nil {
		return Decision{}, err
	}
	chapterID, okResource, err := ec.Resource.Int64(AttrChapterID)
	if err != nil {
		return Decision{}, err
	}
	if !okUser || !okResource {
		return NotApplicableDecision("Missing chapter information"), nil
	}
	if _, member := chapters[chapterID]; member {
		return PermitDecision("User is a member of the chapter"), nil
	}
	return DenyDecision("User is not a member of the chapter"), nil
}

func businessHours(hours BusinessHours) Rule {
	return func(ec EvaluationContext) (Decision, error) {
		if hours.Contains(ec.Now) {
			return PermitDecision("Within business hours"), nil
		}
		return DenyDecision("Outside business hours"), nil
	}
}

// Missing capacity data means the event is unrestricted.
func eventCapacity(ec EvaluationContext) (Decision, error) {
	current, okCurrent, err := ec.Resource.Int64(AttrCurrentAttendees)
	if err != nil {
		return Decision{}, err
	}
	capacity, okMax, err := ec.Resource.Int64(AttrMaxCapacity)
	if err != nil {
		return Decision{}, err
	}
	if !okCurrent || !okMax {
		return PermitDecision("No capacity restrictions"), nil
	}
	if current < capacity {
		return PermitDecision("Event has available capacity"), nil
	}
	return DenyDecision("Event is at full capacity"), nil
}

func roleHierarchy(ec EvaluationContext) (Decision, error) {
	level, okUser, err := ec.User.Int64(AttrUserHierarchyLevel)
	if err != nil {
		return Decision{}, err
	}
	target, okTarget, err := ec.Resource.Int64(AttrTargetUserHierarchy)
	if err != nil {
		return Decision{}, err
	}
	if !okUser || !okTarget {
		return NotApplicableDecision("Missing hierarchy information"), nil
	}
	if level > target {
		return PermitDecision("User has higher hierarchy level"), nil
	}
	return DenyDecision("User does not have sufficient hierarchy level"), nil
}

type timingWindow struct {
	offset time.Duration
	label  string
}

var eventTimingWindows = map[string]timingWindow{
	"rsvp":   {offset: time.Hour, label: "RSVP"},
	"cancel": {offset: 2 * time.Hour, label: "Cancellation"},
	"modify": {offset: 24 * time.Hour, label: "Modification"},
}

func eventTiming(ec EvaluationContext) (Decision, error) {
	start, okStart, err := ec.Resource.Time(AttrEventStartTime)
	if err != nil {
		return Decision{}, err
	}
	actionType, okType, err := ec.Action.String(AttrActionType)
	if err != nil {
		return Decision{}, err
	}
	if !okStart || !okType {
		return NotApplicableDecision("Missing event timing information"), nil
	}
	window, known := eventTimingWindows[strings.ToLower(strings.TrimSpace(actionType))]
	if !known {
		return NotApplicableDecision("Unknown action type: " + actionType), nil
	}
	if ec.Now.Before(start.Add(-window.offset)) {
		return PermitDecision(window.label + " window is open"), nil
	}
	return DenyDecision(window.label + " window has closed"), nil
}

// Missing visibility means the resource is unrestricted.
func resourceVisibility(ec EvaluationContext) (Decision, error) {
	visibility, ok, err := ec.Resource.String(AttrVisibility)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return PermitDecision("No visibility restrictions"), nil
	}
	switch strings.ToLower(strings.TrimSpace(visibility)) {
	case "public":
		return PermitDecision("Resource is public"), nil
	case "members":
		member, _, err := ec.User.Bool(AttrUserIsMember)
		if err != nil {
			return Decision{}, err
		}
		if member {
			return PermitDecision("User is a member"), nil
		}
		return DenyDecision("Resource is visible to members only"), nil
	case "private":
		owner, _, err := ec.User.Bool(AttrUserIsOwner)
		if err != nil {
			return Decision{}, err
		}
		if owner {
			return PermitDecision("User owns the private resource"), nil
		}
		return DenyDecision("Resource is private"), nil
	default:
		return NotApplicableDecision("Unknown visibility: " + visibility), nil
	}
}
