package parser

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"pawsistant/internal/models"
)

// IsChunkFile reports whether name follows the chunked_<original>.html convention.
func IsChunkFile(name string) bool {
	return strings.HasPrefix(name, models.ChunkFilePrefix) && strings.HasSuffix(name, models.ChunkFileSuffix)
}

// SourceName strips the chunk prefix once from the front of name.
func SourceName(name string) string {
	return strings.TrimPrefix(name, models.ChunkFilePrefix)
}

// LoadChunks reads every chunk file in dir and returns its paragraphs in order.
// Files are visited sorted by name, paragraphs in document order. Any unreadable
// or non UTF-8 file aborts the load.
func LoadChunks(dir string) ([]models.Chunk, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk directory: %w", err)
	}

	var chunks []models.Chunk
	files := 0
	for _, entry := range entries {
		if entry.IsDir() || !IsChunkFile(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		paragraphs, err := ParseParagraphs(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}
		source := SourceName(entry.Name())
		for _, p := range paragraphs {
			chunks = append(chunks, models.Chunk{Source: source, Text: p})
		}
		files++
	}

	log.Debug().Str("dir", dir).Int("files", files).Int("chunks", len(chunks)).Msg("Loaded chunk files")
	return chunks, nil
}

// ParseParagraphs extracts the text of every <p> element. Headings, lists, tables
// and any other structure outside a paragraph are dropped, as are paragraphs that
// are empty after trimming.
func ParseParagraphs(data []byte) ([]string, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("invalid utf-8 content")
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var paragraphs []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.P {
			if text := nodeText(n); text != "" {
				paragraphs = append(paragraphs, text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return paragraphs, nil
}

// nodeText joins all descendant text with runs of whitespace collapsed.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
			return
		case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
			return
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
