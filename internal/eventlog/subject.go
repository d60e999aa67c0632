package eventlog

import (
	"strings"

	"github.com/harborgrid/beacon/pkg/apierr"
)

// SubjectPrefix is the root of the platform's subject hierarchy.
const SubjectPrefix = "events"

// validToken reports whether a tenant or project identifier is safe to embed
// in a log subject. Identifiers are minted by the platform (UUIDs), so this
// is a guard against corrupted input, not a user-facing format.
func validToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// Subject builds the log subject for an event. Topic segments become subject
// tokens, so a topic "user.created" nests under the project hierarchy.
func Subject(tenantID, projectID, topic string) (string, error) {
	if !validToken(tenantID) || !validToken(projectID) {
		return "", apierr.New(apierr.CodeInternal, "identifier not addressable in log subject")
	}
	return SubjectPrefix + "." + tenantID + "." + projectID + "." + topic, nil
}

// ProjectFilter matches every event of one project.
func ProjectFilter(tenantID, projectID string) string {
	return SubjectPrefix + "." + tenantID + "." + projectID + ".>"
}

// TopicFilter matches exactly one topic within a project.
func TopicFilter(tenantID, projectID, topic string) string {
	return SubjectPrefix + "." + tenantID + "." + projectID + "." + topic
}

// AllFilter matches every event on the platform.
func AllFilter() string { return SubjectPrefix + ".>" }

// SplitSubject recovers (tenant, project, topic) from a log subject.
func SplitSubject(subject string) (tenantID, projectID, topic string, ok bool) {
	parts := strings.SplitN(subject, ".", 4)
	if len(parts) != 4 || parts[0] != SubjectPrefix {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

// matchFilter implements the subject grammar: '*' matches one token and '>'
// matches one or more trailing tokens.
func matchFilter(filter, subject string) bool {
	f := strings.Split(filter, ".")
	s := strings.Split(subject, ".")
	for i, tok := range f {
		if tok == ">" {
			return len(s) > i
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(f) == len(s)
}
