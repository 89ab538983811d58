package db

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/curator-ai/curator/internal/db/driver"
)

// Embedding is one stored chunk embedding for a kb item.
type Embedding struct {
	ID         int64
	KBItemPath string
	ChunkIndex int
	ChunkText  string
	Model      string
	Dims       int
	Vector     []float32
	CreatedAt  time.Time
}

// VectorMatch is one similarity search hit.
type VectorMatch struct {
	Embedding  *Embedding
	Similarity float64
}

// UpsertEmbedding inserts or replaces the embedding for one chunk of a
// kb item.
func (s *Store) UpsertEmbedding(e *Embedding) error {
	if len(e.Vector) == 0 {
		return fmt.Errorf("upsert embedding %s[%d]: empty vector", e.KBItemPath, e.ChunkIndex)
	}
	e.Dims = len(e.Vector)

	_, err := s.Exec(`
		INSERT INTO embeddings (kb_item_path, chunk_index, chunk_text, model, dims, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kb_item_path, chunk_index) DO UPDATE SET
			chunk_text = excluded.chunk_text,
			model = excluded.model,
			dims = excluded.dims,
			vector = excluded.vector,
			created_at = excluded.created_at
	`, e.KBItemPath, e.ChunkIndex, e.ChunkText, e.Model, e.Dims,
		encodeVector(e.Vector), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert embedding %s[%d]: %w", e.KBItemPath, e.ChunkIndex, err)
	}
	return nil
}

// DeleteEmbeddings removes all chunk embeddings for a kb item.
// Called before re-embedding a changed document.
func (s *Store) DeleteEmbeddings(kbItemPath string) error {
	_, err := s.Exec("DELETE FROM embeddings WHERE kb_item_path = ?", kbItemPath)
	if err != nil {
		return fmt.Errorf("delete embeddings %s: %w", kbItemPath, err)
	}
	return nil
}

// CountEmbeddings returns the total number of stored chunk embeddings.
func (s *Store) CountEmbeddings() (int, error) {
	var count int
	if err := s.QueryRow("SELECT COUNT(*) FROM embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// EmbeddedPaths returns the distinct kb item paths present in the index.
func (s *Store) EmbeddedPaths() (map[string]bool, error) {
	rows, err := s.Query("SELECT DISTINCT kb_item_path FROM embeddings")
	if err != nil {
		return nil, fmt.Errorf("list embedded paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	paths := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan embedded path: %w", err)
		}
		paths[p] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedded paths: %w", err)
	}
	return paths, nil
}

// SearchEmbeddings returns the topK chunks most similar to the query
// vector by cosine similarity. Uses the sqlite-vec distance function when
// the extension is loaded; otherwise scans and ranks in Go.
func (s *Store) SearchEmbeddings(query []float32, topK int) ([]VectorMatch, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("search embeddings: empty query vector")
	}
	if topK <= 0 {
		topK = 10
	}

	if s.Dialect() == driver.DialectSQLite && s.vecAvailable() {
		return s.searchWithVec(query, topK)
	}
	return s.searchBruteForce(query, topK)
}

// vecAvailable probes for the sqlite-vec extension.
func (s *Store) vecAvailable() bool {
	var version string
	return s.QueryRow("SELECT vec_version()").Scan(&version) == nil
}

// searchWithVec pushes distance computation into SQLite.
func (s *Store) searchWithVec(query []float32, topK int) ([]VectorMatch, error) {
	rows, err := s.Query(`
		SELECT id, kb_item_path, chunk_index, chunk_text, model, dims, vector, created_at,
			vec_distance_cosine(vector, ?) AS distance
		FROM embeddings
		WHERE dims = ?
		ORDER BY distance ASC
		LIMIT ?
	`, encodeVector(query), len(query), topK)
	if err != nil {
		// Extension misbehaved; fall back to the Go path
		return s.searchBruteForce(query, topK)
	}
	defer func() { _ = rows.Close() }()

	var matches []VectorMatch
	for rows.Next() {
		e, distance, err := scanEmbeddingWithDistance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		matches = append(matches, VectorMatch{Embedding: e, Similarity: 1 - distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return matches, nil
}

// searchBruteForce ranks every stored vector in Go.
func (s *Store) searchBruteForce(query []float32, topK int) ([]VectorMatch, error) {
	rows, err := s.Query(`
		SELECT id, kb_item_path, chunk_index, chunk_text, model, dims, vector, created_at
		FROM embeddings
		WHERE dims = ?
	`, len(query))
	if err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []VectorMatch
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		matches = append(matches, VectorMatch{
			Embedding:  e,
			Similarity: cosineSimilarity(query, e.Vector),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Embedding.ID < matches[j].Embedding.ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func scanEmbedding(row rowScanner) (*Embedding, error) {
	var e Embedding
	var blob []byte
	var createdAt string

	err := row.Scan(&e.ID, &e.KBItemPath, &e.ChunkIndex, &e.ChunkText, &e.Model, &e.Dims, &blob, &createdAt)
	if err != nil {
		return nil, err
	}

	vec, err := decodeVector(blob)
	if err != nil {
		return nil, err
	}
	e.Vector = vec
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func scanEmbeddingWithDistance(row rowScanner) (*Embedding, float64, error) {
	var e Embedding
	var blob []byte
	var createdAt string
	var distance float64

	err := row.Scan(&e.ID, &e.KBItemPath, &e.ChunkIndex, &e.ChunkText, &e.Model, &e.Dims, &blob, &createdAt, &distance)
	if err != nil {
		return nil, 0, err
	}

	vec, err := decodeVector(blob)
	if err != nil {
		return nil, 0, err
	}
	e.Vector = vec
	e.CreatedAt = parseTime(createdAt)
	return &e, distance, nil
}

// encodeVector serializes a float32 slice as little-endian bytes, the
// layout sqlite-vec expects.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 blob.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// cosineSimilarity computes cos(a, b); zero-length or zero-norm input
// yields 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		af := float64(a[i])
		bf := float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
