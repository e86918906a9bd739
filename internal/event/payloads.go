package event

import "time"

// DocumentMetadata is the document-level metadata carried on extraction and
// chunk events. It seeds every chunk's metadata.
type DocumentMetadata struct {
	Title     string `json:"title"`
	SourceURL string `json:"sourceUrl"`
	PageCount int    `json:"pageCount"`
}

// DocumentDiscovered is emitted by the change detector when a document is new,
// changed, or its local file went missing.
type DocumentDiscovered struct {
	DocumentID   string    `json:"documentId"`
	SourceURL    string    `json:"sourceUrl"`
	FilePath     string    `json:"filePath"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}

// DocumentExtracted is emitted by the extraction stage with the document text.
type DocumentExtracted struct {
	DocumentID  string           `json:"documentId"`
	TextContent string           `json:"textContent"`
	PageTexts   []string         `json:"pageTexts,omitempty"`
	Metadata    DocumentMetadata `json:"metadata"`
	ExtractedAt time.Time        `json:"extractedAt"`
}

// ChunkIndexed is emitted once per chunk after the vector upsert. The event
// for the final chunk (ChunkIndex == TotalChunks-1) triggers retrieval cache
// invalidation.
type ChunkIndexed struct {
	DocumentID     string           `json:"documentId"`
	ChunkID        string           `json:"chunkId"`
	ChunkIndex     int              `json:"chunkIndex"`
	TotalChunks    int              `json:"totalChunks"`
	ChunkText      string           `json:"chunkText"`
	EmbeddingModel string           `json:"embeddingModel"`
	Metadata       DocumentMetadata `json:"metadata"`
	IndexedAt      time.Time        `json:"indexedAt"`
}

// QueryReceived is a tracking event emitted when a search query arrives.
type QueryReceived struct {
	QueryID   string    `json:"queryId"`
	QueryText string    `json:"queryText"`
	UserID    string    `json:"userId,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ChunksRetrieved is a tracking event emitted after retrieval returns results.
type ChunksRetrieved struct {
	QueryID     string   `json:"queryId"`
	ChunkIDs    []string `json:"chunkIds"`
	ResultCount int      `json:"resultCount"`
}

// RetrievalCompleted is a tracking event closing the retrieval chain.
type RetrievalCompleted struct {
	QueryID     string        `json:"queryId"`
	ResultCount int           `json:"resultCount"`
	Elapsed     time.Duration `json:"elapsedNs"`
}

// RawPayload preserves payloads of unknown event types as opaque data. Future
// event types flow through consumers untouched instead of being discarded.
type RawPayload []byte
