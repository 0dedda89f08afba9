package actions

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
)

func builtins() map[string]Handler {
	return map[string]Handler{
		GenerateImage:       generateImage,
		CreateSlides:        createSlides,
		BuildWebpage:        buildWebpage,
		ProcessSpreadsheet:  processSpreadsheet,
		CreateVisualization: createVisualization,
		WriteDocument:       writeDocument,
		WriteCode:           writeCode,
		AnalyzeWebpage:      analyzeWebpage,
	}
}

func generateImage(_ context.Context, p Params) (map[string]any, error) {
	prompt := p.String("prompt", "")
	style := p.String("style", "realistic")
	return map[string]any{
		"type":    "image",
		"prompt":  prompt,
		"style":   style,
		"url":     "https://example.com/generated-image.png",
		"message": "Generated image: " + prompt,
	}, nil
}

func createSlides(_ context.Context, p Params) (map[string]any, error) {
	topic := p.String("topic", "")
	count := p.Int("slides_count", 5)
	return map[string]any{
		"type":         "slides",
		"topic":        topic,
		"slides_count": count,
		"url":          "https://example.com/presentation.pptx",
		"message":      fmt.Sprintf("Created %d slides about %q", count, topic),
	}, nil
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Generated Website</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; }
        .container { max-width: 800px; margin: 0 auto; }
        h1 { color: #333; }
    </style>
</head>
<body class="{{.Style}}">
    <div class="container">
        <h1>Welcome to Your Website</h1>
        <p>{{.Description}}</p>
        <p>This website was generated by Lynus AI Agent.</p>
    </div>
</body>
</html>`))

func buildWebpage(_ context.Context, p Params) (map[string]any, error) {
	description := p.String("description", "")
	style := p.String("style", "modern")
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, map[string]string{"Description": description, "Style": style}); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return map[string]any{
		"type":        "webpage",
		"description": description,
		"style":       style,
		"html":        buf.String(),
		"url":         "https://example.com/generated-site",
		"message":     "Built web page: " + description,
	}, nil
}

func processSpreadsheet(_ context.Context, p Params) (map[string]any, error) {
	operation := p.String("operation", "create")
	dataType := p.String("data_type", "general")
	return map[string]any{
		"type":      "spreadsheet",
		"operation": operation,
		"data_type": dataType,
		"url":       "https://example.com/spreadsheet.xlsx",
		"message":   fmt.Sprintf("Processed spreadsheet: %s - %s", operation, dataType),
	}, nil
}

func createVisualization(_ context.Context, p Params) (map[string]any, error) {
	chartType := p.String("chart_type", "bar")
	source := p.String("data_source", "sample")
	return map[string]any{
		"type":        "visualization",
		"chart_type":  chartType,
		"data_source": source,
		"url":         "https://example.com/chart.png",
		"message":     fmt.Sprintf("Created %s chart from %s data", chartType, source),
	}, nil
}

func writeDocument(_ context.Context, p Params) (map[string]any, error) {
	content := p.String("content", "")
	format := p.String("format", "markdown")
	return map[string]any{
		"type":    "document",
		"content": content,
		"format":  format,
		"message": fmt.Sprintf("Generated %s document", format),
	}, nil
}

// codeTemplates holds a starter program per language; unknown languages get a
// plain comment header.
var codeTemplates = map[string]*texttemplate.Template{
	"python": texttemplate.Must(texttemplate.New("python").Parse(`# {{.}}
# Generated by Lynus AI Agent

def main():
    print("Hello from Lynus AI!")


if __name__ == "__main__":
    main()
`)),
	"go": texttemplate.Must(texttemplate.New("go").Parse(`// {{.}}
// Generated by Lynus AI Agent
package main

import "fmt"

func main() {
	fmt.Println("Hello from Lynus AI!")
}
`)),
	"javascript": texttemplate.Must(texttemplate.New("javascript").Parse(`// {{.}}
// Generated by Lynus AI Agent

function main() {
  console.log("Hello from Lynus AI!");
}

main();
`)),
}

var genericCode = texttemplate.Must(texttemplate.New("generic").Parse(`{{.}}
Generated by Lynus AI Agent
`))

func writeCode(_ context.Context, p Params) (map[string]any, error) {
	language := p.String("language", "python")
	purpose := p.String("purpose", "")
	tmpl, ok := codeTemplates[strings.ToLower(language)]
	if !ok {
		tmpl = genericCode
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, purpose); err != nil {
		return nil, fmt.Errorf("render code: %w", err)
	}
	return map[string]any{
		"type":     "code",
		"language": language,
		"purpose":  purpose,
		"code":     buf.String(),
		"message":  fmt.Sprintf("Generated %s code: %s", language, purpose),
	}, nil
}

func analyzeWebpage(_ context.Context, p Params) (map[string]any, error) {
	url := p.String("url", "")
	return map[string]any{
		"type":     "webpage_analysis",
		"url":      url,
		"analysis": "Analyzed web page: " + url,
		"message":  "Web page analysis finished: " + url,
	}, nil
}
