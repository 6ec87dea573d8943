package artifact

import (
	"fmt"
	"strings"
)

// Reference identifies an immutable, addressable container image.
// Once produced by a Publisher it is read-only and reused verbatim for
// every subsequent pull in the same pipeline run.
//
// Examples (stringified):
//   - registry.example.com/habits/api:42-f3a91c0
//   - registry.example.com/habits/api:latest
type Reference struct {
	Registry  string
	Namespace string
	Image     string
	Tag       string
}

// Repository returns the image path without the tag.
func (r Reference) Repository() string {
	parts := make([]string, 0, 3)
	if r.Registry != "" {
		parts = append(parts, r.Registry)
	}
	if r.Namespace != "" {
		parts = append(parts, r.Namespace)
	}
	parts = append(parts, r.Image)
	return strings.Join(parts, "/")
}

// String returns the canonical pullable form of the reference.
func (r Reference) String() string {
	if r.Tag == "" {
		return r.Repository()
	}
	return r.Repository() + ":" + r.Tag
}

// ParseReference parses a stringified reference of the form
// registry/namespace/image:tag. The registry and namespace are optional.
func ParseReference(s string) (Reference, error) {
	if s == "" {
		return Reference{}, fmt.Errorf("blank image reference")
	}

	var ref Reference
	repo := s
	if i := strings.LastIndex(s, ":"); i > strings.LastIndex(s, "/") {
		repo, ref.Tag = s[:i], s[i+1:]
		if ref.Tag == "" {
			return Reference{}, fmt.Errorf("malformed image reference '%s': empty tag", s)
		}
	}

	parts := strings.Split(repo, "/")
	switch len(parts) {
	case 1:
		ref.Image = parts[0]
	case 2:
		ref.Registry, ref.Image = parts[0], parts[1]
	default:
		ref.Registry = parts[0]
		ref.Image = parts[len(parts)-1]
		ref.Namespace = strings.Join(parts[1:len(parts)-1], "/")
	}

	if ref.Image == "" {
		return Reference{}, fmt.Errorf("malformed image reference '%s': empty image name", s)
	}

	return ref, nil
}

// TagPolicy derives the image tag for a build. With a Fixed literal the tag
// never varies; otherwise the tag is {build_id}-{short_revision}.
type TagPolicy struct {
	Fixed string
}

// Tag returns the tag for the given build identifier and source revision.
func (p TagPolicy) Tag(buildID, revision string) (string, error) {
	if p.Fixed != "" {
		return p.Fixed, nil
	}
	if buildID == "" || revision == "" {
		return "", fmt.Errorf("build id and revision are required for build-revision tagging")
	}
	return buildID + "-" + shortRevision(revision), nil
}

// shortRevision truncates a full revision hash to the conventional 7 chars.
func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
