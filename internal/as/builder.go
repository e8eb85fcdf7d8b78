package as

import (
	"fmt"
	"time"
)

// addressing computes the to/cc pair for an activity given its
// audience, per spec.md §5: public activities address as:Public in
// "to" and the actor's followers collection in "cc"; followers-only
// activities address the followers collection directly in "to";
// direct activities address only the named recipient.
func addressing(audience string, followersURL string, directRecipient string) (StringOrArray, StringOrArray) {
	switch audience {
	case "FollowersOnly":
		return StringOrArray{followersURL}, nil
	case "Direct":
		return StringOrArray{directRecipient}, nil
	default: // Public
		var cc StringOrArray
		if followersURL != "" {
			cc = StringOrArray{followersURL}
		}
		return StringOrArray{PublicURI}, cc
	}
}

// NewFollow builds a Follow activity from actorApID to targetApID.
func NewFollow(id, actorApID, targetApID string) Activity {
	return Activity{
		Context:   DefaultContext,
		ID:        id,
		Type:      "Follow",
		Actor:     actorApID,
		Object:    targetApID,
		To:        StringOrArray{targetApID},
		Published: now(),
	}
}

// NewAccept builds an Accept activity wrapping the inbound Follow
// activity being accepted.
func NewAccept(id, actorApID string, followActivity Activity) Activity {
	return Activity{
		Context:   DefaultContext,
		ID:        id,
		Type:      "Accept",
		Actor:     actorApID,
		Object:    followActivity,
		To:        StringOrArray{followActivity.Actor},
		Published: now(),
	}
}

// NewUndo wraps activityToUndo (a Follow, Like, or Announce previously
// issued by actorApID) in an Undo addressed the same way as the
// original.
func NewUndo(id, actorApID string, activityToUndo Activity) Activity {
	return Activity{
		Context:   DefaultContext,
		ID:        id,
		Type:      "Undo",
		Actor:     actorApID,
		Object:    activityToUndo,
		To:        activityToUndo.To,
		CC:        activityToUndo.CC,
		Published: now(),
	}
}

// NewCreate wraps obj (a Note or Article) in a Create activity,
// addressed per audience.
func NewCreate(id, actorApID string, obj Object, audience string, followersURL string, directRecipient string) Activity {
	to, cc := addressing(audience, followersURL, directRecipient)
	obj.To = to
	obj.CC = cc
	return Activity{
		Context:   DefaultContext,
		ID:        id,
		Type:      "Create",
		Actor:     actorApID,
		Object:    obj,
		To:        to,
		CC:        cc,
		Published: now(),
	}
}

// NewLike builds a Like activity targeting objectApID.
func NewLike(id, actorApID, objectApID string) Activity {
	return Activity{
		Context:   DefaultContext,
		ID:        id,
		Type:      "Like",
		Actor:     actorApID,
		Object:    objectApID,
		To:        StringOrArray{PublicURI},
		Published: now(),
	}
}

// NewAnnounce builds an Announce (repost/boost) activity targeting
// objectApID, addressed to the actor's followers and as:Public.
func NewAnnounce(id, actorApID, objectApID, followersURL string) Activity {
	to, cc := addressing("Public", followersURL, "")
	return Activity{
		Context:   DefaultContext,
		ID:        id,
		Type:      "Announce",
		Actor:     actorApID,
		Object:    objectApID,
		To:        to,
		CC:        cc,
		Published: now(),
	}
}

// NewDelete builds a Delete activity for objectApID, carrying a Tombstone
// as required by spec.md §4 ("recipients that never fetch the object
// still learn it's gone").
func NewDelete(id, actorApID, objectApID, audience, followersURL string) Activity {
	to, cc := addressing(audience, followersURL, "")
	return Activity{
		Context: DefaultContext,
		ID:      id,
		Type:    "Delete",
		Actor:   actorApID,
		Object: map[string]interface{}{
			"id":   objectApID,
			"type": "Tombstone",
		},
		To:        to,
		CC:        cc,
		Published: now(),
	}
}

// ActivityID derives a deterministic activity IRI from the actor's
// ApID, an activity-type segment, and a unique suffix (typically a
// UUID or the target object's id hash), matching the
// "{apId}/{verb}/{suffix}" shape used throughout spec.md §4.
func ActivityID(actorApID, verb, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", actorApID, verb, suffix)
}

// now is a seam so activity timestamps are easy to stub in future
// tests; production code always calls it with no arguments.
func now() string {
	return timeNowFunc().UTC().Format(time.RFC3339)
}

var timeNowFunc = time.Now
