// Package attachments turns the files a user attaches to a message into
// short text excerpts the models can read.
package attachments

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/document/loader/url"
	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/markdown"
	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Conversly/chat-gateway/internal/types"
	"github.com/Conversly/chat-gateway/internal/utils"
)

const (
	defaultMaxChars = 4000
	chunkSize       = 800
	fetchTimeout    = 10 * time.Second
	maxConcurrent   = 4
)

type Config struct {
	// MaxChars caps the excerpt of a single attachment.
	MaxChars int
	Client   *http.Client
}

// Reader fetches and excerpts attachments. A nil Reader reads nothing.
type Reader struct {
	loader   document.Loader
	headers  document.Transformer
	splitter document.Transformer
	maxChars int
}

func NewReader(ctx context.Context, cfg Config) (*Reader, error) {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: fetchTimeout}
	}

	pdfParser, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	if err != nil {
		return nil, fmt.Errorf("failed to create pdf parser: %w", err)
	}
	extParser, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers:        map[string]parser.Parser{".pdf": pdfParser},
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create parser: %w", err)
	}

	loader, err := url.NewLoader(ctx, &url.LoaderConfig{
		Parser: extParser,
		Client: cfg.Client,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create url loader: %w", err)
	}

	headers, err := markdown.NewHeaderSplitter(ctx, &markdown.HeaderConfig{
		Headers: map[string]string{"#": "h1", "##": "h2", "###": "h3"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown splitter: %w", err)
	}

	splitter, err := recursive.NewSplitter(ctx, &recursive.Config{
		ChunkSize:  chunkSize,
		Separators: []string{"\n\n", "\n", ". ", " "},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create splitter: %w", err)
	}

	return &Reader{
		loader:   loader,
		headers:  headers,
		splitter: splitter,
		maxChars: cfg.MaxChars,
	}, nil
}

// Readable reports whether an excerpt can be produced for the media type.
func Readable(mediaType string) bool {
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(mediaType, ";", 2)[0]))
	switch {
	case strings.HasPrefix(mt, "text/"):
		return true
	case mt == "application/pdf", mt == "application/json", mt == "application/xml":
		return true
	}
	return false
}

func isMarkdown(p types.Part) bool {
	return strings.HasPrefix(strings.ToLower(p.MediaType), "text/markdown") ||
		strings.HasSuffix(strings.ToLower(p.Name), ".md")
}

// Excerpts returns excerpts of the message's readable file parts keyed by
// URL. Attachments that cannot be read are left out.
func (r *Reader) Excerpts(ctx context.Context, msg types.Message) map[string]string {
	if r == nil {
		return nil
	}

	var (
		mu  sync.Mutex
		out = map[string]string{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for _, p := range msg.Parts {
		if p.Type != types.PartFile || p.URL == "" || !Readable(p.MediaType) {
			continue
		}
		p := p
		g.Go(func() error {
			text, err := r.excerpt(gctx, p)
			if err != nil {
				utils.Zlog.Warn("Failed to read attachment",
					zap.String("url", p.URL),
					zap.String("media_type", p.MediaType),
					zap.Error(err))
				return nil
			}
			if text == "" {
				return nil
			}
			mu.Lock()
			out[p.URL] = text
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(out) == 0 {
		return nil
	}
	return out
}

func (r *Reader) excerpt(ctx context.Context, p types.Part) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	docs, err := r.loader.Load(ctx, document.Source{URI: p.URL})
	if err != nil {
		return "", err
	}
	if isMarkdown(p) {
		if docs, err = r.headers.Transform(ctx, docs); err != nil {
			return "", err
		}
	}
	if docs, err = r.splitter.Transform(ctx, docs); err != nil {
		return "", err
	}
	return r.join(docs), nil
}

// join keeps whole chunks in order until the budget is spent.
func (r *Reader) join(docs []*schema.Document) string {
	var sb strings.Builder
	for _, d := range docs {
		chunk := strings.TrimSpace(d.Content)
		if chunk == "" {
			continue
		}
		if sb.Len() > 0 && sb.Len()+len(chunk)+1 > r.maxChars {
			break
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(utils.Truncate(chunk, r.maxChars))
	}
	return sb.String()
}
