// Package fetch implements the upstream fetch collaborator used by the
// Refresher (C10) to re-read origin metadata for remote-repo and
// marketplace artifacts.
package fetch

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"skillmeat/internal/errs"
	"skillmeat/internal/logging"
	"skillmeat/internal/model"
)

// UpstreamMetadata is the upstream-side view of the five refreshable
// fields (spec.md §4.10's fixed whitelist: description, tags, author,
// license, origin_source).
type UpstreamMetadata struct {
	Description  string
	Tags         []string
	Author       string
	License      string
	OriginSource string
}

// UpstreamFetcher re-reads an artifact's upstream descriptor. It is the
// single narrow seam between the Refresher and the outside world, so the
// core stays testable without a network.
type UpstreamFetcher interface {
	Fetch(ctx context.Context, origin model.Origin) (UpstreamMetadata, error)
}

// remoteRepoSpec is a parsed "owner/repo[/path][@ref]" locator, following
// the same shape as the original GitHub-metadata extractor's source spec.
type remoteRepoSpec struct {
	owner string
	repo  string
	path  string
	ref   string
}

func parseLocator(locator string) (remoteRepoSpec, error) {
	loc := locator
	var ref string
	if idx := strings.LastIndex(loc, "@"); idx >= 0 {
		loc, ref = loc[:idx], loc[idx+1:]
	}
	parts := strings.SplitN(strings.Trim(loc, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return remoteRepoSpec{}, fmt.Errorf("locator %q is not owner/repo[/path]", locator)
	}
	spec := remoteRepoSpec{owner: parts[0], repo: parts[1], ref: ref}
	if len(parts) == 3 {
		spec.path = parts[2]
	}
	return spec, nil
}

func (s remoteRepoSpec) cloneURL() string {
	return fmt.Sprintf("https://github.com/%s/%s.git", s.owner, s.repo)
}

// RemoteRepoFetcher fetches upstream frontmatter metadata from a git
// remote without a full working checkout: it clones into an in-memory
// storer and billy filesystem, then reads the artifact's descriptor file
// straight out of the commit tree.
type RemoteRepoFetcher struct{}

// NewRemoteRepoFetcher returns a fetcher backed by go-git's in-memory
// clone support.
func NewRemoteRepoFetcher() *RemoteRepoFetcher {
	return &RemoteRepoFetcher{}
}

func (f *RemoteRepoFetcher) Fetch(ctx context.Context, origin model.Origin) (UpstreamMetadata, error) {
	if origin.Kind != model.OriginRemoteRepo {
		return UpstreamMetadata{}, errs.New(errs.ParseError, "RemoteRepoFetcher invoked for non remote-repo origin", nil)
	}

	timer := logging.StartTimer(logging.CategorySync, "fetch.RemoteRepoFetcher.Fetch")
	defer timer.Stop()

	spec, err := parseLocator(origin.Locator)
	if err != nil {
		return UpstreamMetadata{}, errs.New(errs.ParseError, "parse remote-repo locator", err)
	}

	cloneOpts := &git.CloneOptions{
		URL:          spec.cloneURL(),
		Depth:        1,
		SingleBranch: true,
	}
	if spec.ref != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(spec.ref)
	}

	repo, err := git.CloneContext(ctx, memory.NewStorage(), memfs.New(), cloneOpts)
	if err != nil {
		return UpstreamMetadata{}, errs.New(errs.IOError, fmt.Sprintf("clone %s", spec.cloneURL()), err)
	}

	head, err := repo.Head()
	if err != nil {
		return UpstreamMetadata{}, errs.New(errs.IOError, "resolve remote HEAD", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return UpstreamMetadata{}, errs.New(errs.IOError, "read HEAD commit", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return UpstreamMetadata{}, errs.New(errs.IOError, "read commit tree", err)
	}

	content, err := readDescriptorFile(tree, spec.path)
	if err != nil {
		return UpstreamMetadata{}, err
	}

	fm, err := parseFrontmatter(content)
	if err != nil {
		return UpstreamMetadata{}, errs.New(errs.ParseError, "parse artifact frontmatter", err)
	}

	return UpstreamMetadata{
		Description:  fm.stringField("description"),
		Tags:         fm.stringSliceField("tags"),
		Author:       fm.stringField("author"),
		License:      fm.stringField("license"),
		OriginSource: fmt.Sprintf("%s/%s@%s", spec.owner, spec.repo, head.Hash().String()),
	}, nil
}

// readDescriptorFile finds and reads the first markdown file under path in
// tree, preferring a conventionally named descriptor file when more than
// one candidate exists.
func readDescriptorFile(tree *object.Tree, path string) ([]byte, error) {
	var best *object.File
	bestScore := -1

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()

	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.New(errs.IOError, "walk remote tree", err)
		}
		if entry.Mode.IsFile() == false {
			continue
		}
		if path != "" && !strings.HasPrefix(name, path) {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(name), ".md") {
			continue
		}

		score := 0
		base := strings.ToLower(name[strings.LastIndex(name, "/")+1:])
		switch base {
		case "skill.md":
			score = 3
		case "readme.md":
			score = 2
		default:
			score = 1
		}
		if score > bestScore {
			f, err := tree.File(name)
			if err != nil {
				continue
			}
			best = f
			bestScore = score
		}
	}

	if best == nil {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("no descriptor markdown file found under %q", path), nil)
	}

	r, err := best.Reader()
	if err != nil {
		return nil, errs.New(errs.IOError, "open descriptor file", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.New(errs.IOError, "read descriptor file", err)
	}
	return data, nil
}

// frontmatter is the YAML header block delimited by "---" lines at the
// top of an artifact's descriptor markdown file.
type frontmatter map[string]interface{}

func (fm frontmatter) stringField(key string) string {
	v, ok := fm[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (fm frontmatter) stringSliceField(key string) []string {
	v, ok := fm[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func parseFrontmatter(content []byte) (frontmatter, error) {
	text := string(content)
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return frontmatter{}, nil
	}
	rest := strings.TrimPrefix(text, "---\n")
	rest = strings.TrimPrefix(rest, "---\r\n")

	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, fmt.Errorf("unterminated frontmatter block")
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, fmt.Errorf("decode frontmatter: %w", err)
	}
	if fm == nil {
		fm = frontmatter{}
	}
	return fm, nil
}

// MarketplaceFetcher is a stub: a real marketplace client is explicitly
// out of scope (spec.md §1 Non-goals), so every call is classified as
// rate-limited until the outer layer supplies a concrete implementation.
type MarketplaceFetcher struct{}

func NewMarketplaceFetcher() *MarketplaceFetcher { return &MarketplaceFetcher{} }

func (f *MarketplaceFetcher) Fetch(ctx context.Context, origin model.Origin) (UpstreamMetadata, error) {
	if origin.Kind != model.OriginMarketplace {
		return UpstreamMetadata{}, errs.New(errs.ParseError, "MarketplaceFetcher invoked for non marketplace origin", nil)
	}
	return UpstreamMetadata{}, errs.ForArtifact(errs.RateLimited, origin.SourceID,
		"marketplace client not configured", nil)
}
