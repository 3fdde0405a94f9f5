package models

// Chunk is one paragraph of a cleaned page, tagged with the page it came from.
type Chunk struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Document is the record handed to the vector store. It is created 1:1 from a Chunk.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
	Embedding []float32         `json:"-"`
}

// Source returns the originating file name recorded in the metadata.
func (d Document) Source() string { return d.Metadata[MetaSource] }

// Match is a retrieved document with its cosine similarity to the query.
type Match struct {
	Document   Document `json:"document"`
	Similarity float32  `json:"similarity"`
}
