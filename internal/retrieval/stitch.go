package retrieval

import (
	"context"
	"encoding/json"
	"os"

	"github.com/llmc-dev/codeindex/internal/graphstore"
	"github.com/llmc-dev/codeindex/internal/model"
)

// graphArtifact is the on-disk shape of the JSON schema-graph artifact
// (internal/graphbuild's output), used only as a fallback when the indexed
// Graph Store can't be opened.
type graphArtifact struct {
	Nodes []model.GraphNode `json:"nodes"`
	Edges []model.GraphEdge `json:"edges"`
}

// StitchGraph pads seedFiles' result set up to limit total files using
// 1-hop file-level neighbors, preferring the indexed Graph Store. If gs is
// nil (store unavailable), it falls back to reading the JSON artifact at
// artifactPath and expanding neighbors in memory. Returns the neighbor file
// paths to add, deduplicated against seedFiles and each other.
func StitchGraph(ctx context.Context, gs *graphstore.Store, artifactPath string, seedFiles []string, limit int) ([]string, error) {
	seen := make(map[string]bool, len(seedFiles))
	for _, f := range seedFiles {
		seen[f] = true
	}

	remaining := limit - len(seedFiles)
	if remaining <= 0 {
		return nil, nil
	}

	if gs != nil {
		return stitchFromStore(ctx, gs, seedFiles, seen, remaining)
	}
	return stitchFromArtifact(artifactPath, seedFiles, seen, remaining)
}

func stitchFromStore(ctx context.Context, gs *graphstore.Store, seedFiles []string, seen map[string]bool, remaining int) ([]string, error) {
	var added []string
	for _, seed := range seedFiles {
		if len(added) >= remaining {
			break
		}
		neighbors, err := gs.FileNeighbors(ctx, seed)
		if err != nil {
			return added, err
		}
		for _, n := range neighbors {
			if seen[n.Path] {
				continue
			}
			seen[n.Path] = true
			added = append(added, n.Path)
			if len(added) >= remaining {
				break
			}
		}
	}
	return added, nil
}

func stitchFromArtifact(artifactPath string, seedFiles []string, seen map[string]bool, remaining int) ([]string, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var artifact graphArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, err
	}

	pathByNode := make(map[string]string, len(artifact.Nodes))
	for _, n := range artifact.Nodes {
		pathByNode[n.ID] = n.Path
	}

	seedSet := make(map[string]bool, len(seedFiles))
	for _, f := range seedFiles {
		seedSet[f] = true
	}

	var added []string
	for _, e := range artifact.Edges {
		if len(added) >= remaining {
			break
		}
		srcPath, srcOk := pathByNode[e.SourceID]
		dstPath, dstOk := pathByNode[e.TargetID]
		if !srcOk || !dstOk {
			continue
		}

		var candidate string
		switch {
		case seedSet[srcPath] && !seen[dstPath]:
			candidate = dstPath
		case seedSet[dstPath] && !seen[srcPath]:
			candidate = srcPath
		default:
			continue
		}

		seen[candidate] = true
		added = append(added, candidate)
	}
	return added, nil
}
