package vectorstore

import "time"

// Record is one indexable file handed to the store. The store owns
// embedding and identity; callers only supply content and provenance.
type Record struct {
	Path        string
	Content     string
	Extension   string
	SizeBytes   int64
	ModifiedAt  time.Time
	ContentHash string
}

// Document is a fully prepared vector store entry: a Record with its
// embedding, repository attribution, and a store-assigned identity.
type Document struct {
	ID          string
	Vector      []float32
	RepoName    string
	Path        string
	Content     string
	Extension   string
	SizeBytes   int64
	ModifiedAt  time.Time
	ContentHash string
	IndexedAt   time.Time
}

// ScoredDocument is a Document returned from a similarity query.
// Score is a similarity in (0, 1], higher is better, regardless of the
// backend's native distance metric.
type ScoredDocument struct {
	Document
	Score float32
}

// Stats describes the current state of the store.
type Stats struct {
	Backend         string `json:"backend"`
	TotalDocuments  int    `json:"total_documents"`
	VectorDimension int    `json:"vector_dimension"`
	DistanceMetric  string `json:"distance_metric"`
}
