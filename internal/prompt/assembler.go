package prompt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"go.uber.org/zap"

	"github.com/prospectia/enrichment-back/internal/domain"
	"github.com/prospectia/enrichment-back/internal/repository"
	"github.com/prospectia/enrichment-back/internal/webcontent"
)

const Version = "analysis_v2"

const defaultContentCap = 3500

type Input struct {
	Strategy string
	// OverrideCategory names the operator override slot (e.g. "hunter").
	// Empty means the strategy key doubles as the category.
	OverrideCategory string
	Business         domain.BusinessFacts
	// RawWebContent is unsanitized fetched HTML; the assembler owns
	// sanitization and the character cap.
	RawWebContent string
	CustomPrompt  string
}

type Output struct {
	Prompt        string
	Strategy      Strategy
	PromptVersion string
	UsedOverride  bool
}

// Assembler builds the exact text sent to a provider: strategy directive
// (operator override or default template), structured business facts,
// bounded website extract, and the output-shape contract.
type Assembler struct {
	overrides  repository.OverridesRepository
	logger     *zap.SugaredLogger
	contentCap int

	tmplMu    sync.RWMutex
	templates map[Strategy]*template.Template
}

func NewAssembler(overrides repository.OverridesRepository, contentCap int, logger *zap.SugaredLogger) *Assembler {
	if contentCap <= 0 {
		contentCap = defaultContentCap
	}
	return &Assembler{
		overrides:  overrides,
		logger:     logger,
		contentCap: contentCap,
		templates:  make(map[Strategy]*template.Template),
	}
}

func (a *Assembler) Assemble(ctx context.Context, input Input) (Output, error) {
	strategy := NormalizeStrategy(input.Strategy)

	directive, usedOverride := a.resolveDirective(ctx, strategy, input)

	builder := strings.Builder{}
	builder.WriteString(directive)
	builder.WriteString("\n\n")
	a.writeBusinessFacts(&builder, input.Business)
	a.writeWebsiteSection(&builder, input)

	if custom := strings.TrimSpace(input.CustomPrompt); custom != "" {
		builder.WriteString("## Additional instructions\n")
		builder.WriteString(custom)
		builder.WriteString("\n\n")
	}

	builder.WriteString(outputContract)

	return Output{
		Prompt:        builder.String(),
		Strategy:      strategy,
		PromptVersion: Version,
		UsedOverride:  usedOverride,
	}, nil
}

// resolveDirective applies the operator override when one exists. An
// unreachable override store falls back to the default with a logged warning;
// it must never block enrichment.
func (a *Assembler) resolveDirective(ctx context.Context, strategy Strategy, input Input) (string, bool) {
	category := strings.TrimSpace(input.OverrideCategory)
	if category == "" {
		category = string(strategy)
	}

	if a.overrides != nil {
		text, err := a.overrides.GetActiveOverride(ctx, category)
		switch {
		case err == nil && strings.TrimSpace(text) != "":
			return strings.TrimSpace(text), true
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			a.logger.Warnw("override store unreachable, default template applies",
				"category", category, "error", err)
		}
	}

	rendered, err := a.renderDefault(strategy, input.Business)
	if err != nil {
		a.logger.Errorw("render default template failed", "strategy", strategy, "error", err)
		// Last resort: general template is a compile-time constant.
		rendered = strings.ReplaceAll(defaultTemplates[StrategyGeneral], "{{.BusinessName}}", input.Business.Name)
		rendered = strings.ReplaceAll(rendered, "{{.Category}}", input.Business.Category)
	}
	return rendered, false
}

func (a *Assembler) renderDefault(strategy Strategy, business domain.BusinessFacts) (string, error) {
	tmpl, err := a.loadTemplate(strategy)
	if err != nil {
		return "", err
	}

	buffer := bytes.NewBuffer(nil)
	err = tmpl.Execute(buffer, map[string]string{
		"BusinessName": business.Name,
		"Category":     business.Category,
	})
	if err != nil {
		return "", fmt.Errorf("execute template %s: %w", strategy, err)
	}
	return buffer.String(), nil
}

func (a *Assembler) loadTemplate(strategy Strategy) (*template.Template, error) {
	a.tmplMu.RLock()
	if tmpl, ok := a.templates[strategy]; ok {
		a.tmplMu.RUnlock()
		return tmpl, nil
	}
	a.tmplMu.RUnlock()

	body, ok := defaultTemplates[strategy]
	if !ok {
		body = defaultTemplates[StrategyGeneral]
	}
	tmpl, err := template.New(string(strategy)).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", strategy, err)
	}

	a.tmplMu.Lock()
	a.templates[strategy] = tmpl
	a.tmplMu.Unlock()
	return tmpl, nil
}

func (a *Assembler) writeBusinessFacts(builder *strings.Builder, business domain.BusinessFacts) {
	builder.WriteString("## Business profile\n")
	fmt.Fprintf(builder, "Name: %s\n", valueOr(business.Name, "unknown"))
	fmt.Fprintf(builder, "Category: %s\n", valueOr(business.Category, "unknown"))
	fmt.Fprintf(builder, "Address: %s\n", valueOr(business.Address, "unknown"))
	if business.ReviewsCount > 0 {
		fmt.Fprintf(builder, "Rating: %.1f (%d reviews)\n", business.Rating, business.ReviewsCount)
	} else {
		builder.WriteString("Rating: no reviews yet\n")
	}
	for _, excerpt := range business.ReviewExcerpts {
		fmt.Fprintf(builder, "Review: %q\n", webcontent.Truncate(excerpt, 240))
	}
	builder.WriteString("\n")
}

func (a *Assembler) writeWebsiteSection(builder *strings.Builder, input Input) {
	if !input.Business.HasWebsite() {
		// The absence of a website is itself a sales signal; state it
		// explicitly rather than omitting the section.
		builder.WriteString("## Website\n")
		builder.WriteString("This business has NO website. Factor the missing web presence into the analysis as an opportunity.\n\n")
		return
	}

	builder.WriteString("## Website\n")
	fmt.Fprintf(builder, "URL: %s\n", strings.TrimSpace(input.Business.Website))

	extract := webcontent.SanitizeAndCap(input.RawWebContent, a.contentCap)
	if extract == "" {
		builder.WriteString("Content: could not be retrieved at analysis time.\n\n")
		return
	}
	builder.WriteString("Content extract:\n")
	builder.WriteString(extract)
	builder.WriteString("\n\n")
}

func valueOr(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
