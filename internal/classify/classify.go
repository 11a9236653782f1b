// Package classify computes the semantic version bump required by a window
// of commits. Commit messages are parsed as conventional commits; the bump
// decision is a fold over the whole window with a total precedence order
// (breaking > feature > fix > none), so one breaking change among many
// features still yields a major bump.
package classify

import (
	"github.com/Masterminds/semver/v3"
	"github.com/leodido/go-conventionalcommits"
	"github.com/leodido/go-conventionalcommits/parser"
)

// Kind is the kind of version bump a commit window requires.
// Kinds are totally ordered: None < Patch < Minor < Major.
type Kind int

const (
	// None means no recognized classification marker was found.
	// A None decision terminates the pipeline without releasing.
	None Kind = iota

	// Patch is forced by a fix marker.
	Patch

	// Minor is forced by a feature marker.
	Minor

	// Major is forced by a breaking-change marker anywhere in the window.
	Major
)

// String returns a human-readable string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Patch:
		return "patch"
	case Minor:
		return "minor"
	case Major:
		return "major"
	default:
		return "unknown"
	}
}

// ParseKind converts a user-supplied override value into a Kind.
// The bool result reports whether the value named a valid bump kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "major":
		return Major, true
	case "minor":
		return Minor, true
	case "patch":
		return Patch, true
	case "none":
		return None, true
	default:
		return None, false
	}
}

// Next applies the bump to the given version per standard semver rules.
// A None kind returns the version unchanged.
func (k Kind) Next(current *semver.Version) *semver.Version {
	switch k {
	case Major:
		v := current.IncMajor()
		return &v
	case Minor:
		v := current.IncMinor()
		return &v
	case Patch:
		v := current.IncPatch()
		return &v
	default:
		return current
	}
}

// Commit is one commit in the classification window.
type Commit struct {
	// Hash is the commit identifier.
	Hash string

	// Message is the full commit message including body and footers.
	Message string
}

// CommitRef records why a commit contributed to the decision.
type CommitRef struct {
	// Hash is the commit identifier.
	Hash string

	// Subject is the first line of the commit message.
	Subject string

	// Marker is the bump kind this commit signalled.
	Marker Kind
}

// Decision is the bump decision for one pipeline run.
// It is computed once from the commit window and immutable thereafter.
type Decision struct {
	// Kind is the bump to perform.
	Kind Kind

	// Rationale lists the commits that matched a classification marker,
	// oldest first.
	Rationale []CommitRef

	// Automatic is the kind the commit window classified to, before any
	// manual override was applied. Equal to Kind when no override was given.
	Automatic Kind

	// Overridden reports whether a manual override replaced the automatic
	// classification.
	Overridden bool
}

// Classifier classifies commit windows into bump decisions.
type Classifier struct {
	machine conventionalcommits.Machine
}

// New creates a Classifier using the full conventional-commit type set.
func New() *Classifier {
	return &Classifier{
		machine: parser.NewMachine(
			conventionalcommits.WithTypes(conventionalcommits.TypesConventional),
			conventionalcommits.WithBestEffort(),
		),
	}
}

// Classify computes the bump decision for the given commit window,
// oldest first. A non-nil override is used unconditionally; the automatic
// classification is still computed and recorded in the decision so an
// override that downgrades the bump is visible in the run report.
//
// Malformed or non-conventional messages carry no classification signal
// and never cause an error. An empty window yields None.
func (c *Classifier) Classify(commits []Commit, override *Kind) Decision {
	decision := Decision{Kind: None}

	for _, commit := range commits {
		marker := c.classifyOne(commit.Message)
		if marker == None {
			continue
		}

		decision.Rationale = append(decision.Rationale, CommitRef{
			Hash:    commit.Hash,
			Subject: firstLine(commit.Message),
			Marker:  marker,
		})
		if marker > decision.Kind {
			decision.Kind = marker
		}
	}

	decision.Automatic = decision.Kind
	if override != nil {
		decision.Kind = *override
		decision.Overridden = true
	}

	return decision
}

// classifyOne maps a single commit message to the bump kind it signals.
func (c *Classifier) classifyOne(message string) Kind {
	// Best-effort parsing still yields a usable message when only the body
	// is malformed. Unparseable messages are non-matching, never an error.
	msg, _ := c.machine.Parse([]byte(message))
	if msg == nil || !msg.Ok() {
		return None
	}

	cc, ok := msg.(*conventionalcommits.ConventionalCommit)
	if !ok {
		return None
	}

	switch {
	case cc.IsBreakingChange():
		return Major
	case cc.Type == "feat":
		return Minor
	case cc.Type == "fix":
		return Patch
	default:
		return None
	}
}

func firstLine(message string) string {
	for i := 0; i < len(message); i++ {
		if message[i] == '\n' {
			return message[:i]
		}
	}
	return message
}
