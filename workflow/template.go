package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/mediaforge/mediaforge/types"
)

// ParamSpec declares one template parameter.
type ParamSpec struct {
	// Name is the placeholder name referenced as {{name}}.
	Name string `json:"name" yaml:"name"`
	// Required parameters must be supplied at submission.
	Required bool `json:"required" yaml:"required"`
	// Default fills the value for optional parameters.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`
	// Description documents the parameter for callers.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Template is a named, parameterized step-graph definition. Step
// parameters may reference template parameters and step outputs as
// {{name}} placeholders.
type Template struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  []ParamSpec      `json:"parameters" yaml:"parameters"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
	Tags        []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
}

func (t *Template) hasTag(tag string) bool {
	for _, candidate := range t.Tags {
		if candidate == tag {
			return true
		}
	}
	return false
}

// Instantiate resolves template parameters into an executable step
// list plus the initial workflow context. Placeholders that name
// step outputs are left for the engine to resolve at dispatch.
func (t *Template) Instantiate(params map[string]any) ([]StepDefinition, map[string]any, error) {
	initial := make(map[string]any, len(t.Parameters))
	for _, spec := range t.Parameters {
		value, ok := params[spec.Name]
		if !ok {
			if spec.Required {
				return nil, nil, types.NewError(types.ErrWorkflowConfiguration,
					fmt.Sprintf("template %q requires parameter %q", t.ID, spec.Name))
			}
			value = spec.Default
		}
		initial[spec.Name] = value
	}

	steps := make([]StepDefinition, len(t.Steps))
	copy(steps, t.Steps)
	for i := range steps {
		if steps[i].Parameters == nil {
			continue
		}
		resolved := make(map[string]any, len(steps[i].Parameters))
		for key, value := range steps[i].Parameters {
			if s, ok := value.(string); ok {
				resolved[key] = Interpolate(s, initial)
			} else {
				resolved[key] = value
			}
		}
		steps[i].Parameters = resolved
	}

	if err := ValidateGraph(steps, initial); err != nil {
		return nil, nil, err
	}
	return steps, initial, nil
}

var placeholderPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Interpolate replaces {{name}} placeholders with values from the
// map. Unknown placeholders are left intact so a later pass (e.g.
// dispatch-time context resolution) can fill them.
func Interpolate(s string, values map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-2]
		if value, ok := values[name]; ok {
			return fmt.Sprintf("%v", value)
		}
		return match
	})
}

// Library is an explicitly constructed template registry.
type Library struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewLibrary creates a library preloaded with the builtin templates.
func NewLibrary() *Library {
	l := &Library{templates: make(map[string]*Template)}
	for _, t := range builtinTemplates() {
		l.templates[t.ID] = t
	}
	return l
}

// Register adds or replaces a template.
func (l *Library) Register(t *Template) error {
	if t.ID == "" {
		return types.NewError(types.ErrWorkflowConfiguration, "template id must not be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[t.ID] = t
	return nil
}

// Get returns the template with the given id.
func (l *Library) Get(id string) (*Template, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[id]
	if !ok {
		return nil, types.NewError(types.ErrTemplateNotFound, fmt.Sprintf("template %q not found", id))
	}
	return t, nil
}

// List returns the sorted ids of all registered templates.
func (l *Library) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.templates))
	for id := range l.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListByTag returns the sorted ids of templates carrying the tag. An
// empty tag matches every template.
func (l *Library) ListByTag(tag string) []string {
	if tag == "" {
		return l.List()
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.templates))
	for id, t := range l.templates {
		if t.hasTag(tag) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Search returns the sorted ids of templates whose id, name,
// description, or tags contain the keyword, case-insensitively.
func (l *Library) Search(keyword string) []string {
	keyword = strings.ToLower(keyword)
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.templates))
	for id, t := range l.templates {
		if strings.Contains(strings.ToLower(id), keyword) ||
			strings.Contains(strings.ToLower(t.Name), keyword) ||
			strings.Contains(strings.ToLower(t.Description), keyword) {
			ids = append(ids, id)
			continue
		}
		for _, tag := range t.Tags {
			if strings.Contains(strings.ToLower(tag), keyword) {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// builtinTemplates returns the template set shipped with the gateway.
func builtinTemplates() []*Template {
	return []*Template{
		{
			ID:          "story_video_generation",
			Name:        "Story video generation",
			Description: "Write a short story script, illustrate its scenes, then render a narrated video.",
			Tags:        []string{"story", "video", "creative"},
			Parameters: []ParamSpec{
				{Name: "theme", Required: true, Description: "Theme the story is written around"},
				{Name: "style", Default: "cinematic", Description: "Visual style for images and video"},
			},
			Steps: []StepDefinition{
				{
					Name: "generate_script",
					Kind: StepGenerateText,
					Parameters: map[string]any{
						"prompt": "Write a short, engaging story script about: {{theme}}. Structure it as an opening, a development, a climax, and an ending, separated by blank lines.",
					},
					RetryLimit: 2,
				},
				{
					Name:      "generate_scene_images",
					Kind:      StepGenerateImage,
					DependsOn: []string{"generate_script"},
					InputKeys: []string{"generate_script"},
					Parameters: map[string]any{
						"prompt": "Create {{style}} scene illustrations for this story script: {{generate_script}}",
						"count":  2,
					},
					RetryLimit: 2,
				},
				{
					Name:      "create_story_video",
					Kind:      StepGenerateVideo,
					DependsOn: []string{"generate_scene_images"},
					InputKeys: []string{"generate_scene_images"},
					Parameters: map[string]any{
						"prompt":     "Create an engaging short video in a {{style}} style from these scenes: {{generate_scene_images}}",
						"duration_s": 10,
					},
					RetryLimit: 1,
				},
			},
		},
		{
			ID:          "multimedia_content_creation",
			Name:        "Multimedia content creation",
			Description: "Produce an article, a feature image, a summary, and a promotional video for one topic.",
			Tags:        []string{"content", "multimedia", "marketing"},
			Parameters: []ParamSpec{
				{Name: "topic", Required: true, Description: "Topic the content covers"},
			},
			Steps: []StepDefinition{
				{
					Name: "generate_article",
					Kind: StepGenerateText,
					Parameters: map[string]any{
						"prompt": "Write an engaging article about '{{topic}}' with a title, an introduction, three to four body sections, and a conclusion.",
					},
					RetryLimit: 2,
				},
				{
					Name: "create_feature_image",
					Kind: StepGenerateImage,
					Parameters: map[string]any{
						"prompt": "Create a professional feature image for '{{topic}}' in a modern, minimal style suitable as an article header.",
					},
					Optional:   true,
					RetryLimit: 2,
				},
				{
					Name:      "generate_summary",
					Kind:      StepGenerateText,
					DependsOn: []string{"generate_article"},
					InputKeys: []string{"generate_article"},
					Parameters: map[string]any{
						"prompt": "Summarize the key points of this article in five bullet points: {{generate_article}}",
					},
					RetryLimit: 2,
				},
				{
					Name:      "create_promotional_video",
					Kind:      StepGenerateVideo,
					DependsOn: []string{"generate_summary", "create_feature_image"},
					InputKeys: []string{"generate_summary"},
					Parameters: map[string]any{
						"prompt":     "Create a 30-second promotional video for '{{topic}}' highlighting: {{generate_summary}}",
						"duration_s": 30,
					},
					RetryLimit: 1,
				},
			},
		},
		{
			ID:          "product_introduction",
			Name:        "Product introduction",
			Description: "Analyze a product, write marketing copy, render product visuals, and cut a demo video.",
			Tags:        []string{"product", "marketing", "demo"},
			Parameters: []ParamSpec{
				{Name: "product_description", Required: true, Description: "Free-form description of the product"},
			},
			Steps: []StepDefinition{
				{
					Name: "analyze_product_features",
					Kind: StepGenerateText,
					Parameters: map[string]any{
						"prompt": "Extract the key features, advantages, and target audience from this product description: {{product_description}}",
					},
					RetryLimit: 2,
				},
				{
					Name:      "generate_marketing_copy",
					Kind:      StepGenerateText,
					DependsOn: []string{"analyze_product_features"},
					InputKeys: []string{"analyze_product_features"},
					Parameters: map[string]any{
						"prompt": "Write professional marketing copy based on this product analysis: {{analyze_product_features}}. Include a headline, three to five selling points, and a call to action.",
					},
					RetryLimit: 2,
				},
				{
					Name:      "create_product_visuals",
					Kind:      StepGenerateImage,
					DependsOn: []string{"analyze_product_features"},
					InputKeys: []string{"analyze_product_features"},
					Parameters: map[string]any{
						"prompt": "Create a clean product showcase image on a white background for: {{product_description}}",
						"count":  2,
					},
					RetryLimit: 2,
				},
				{
					Name:      "create_demo_video",
					Kind:      StepGenerateVideo,
					DependsOn: []string{"generate_marketing_copy", "create_product_visuals"},
					InputKeys: []string{"generate_marketing_copy"},
					Parameters: map[string]any{
						"prompt":     "Create a product demo video presenting: {{generate_marketing_copy}}",
						"duration_s": 20,
					},
					RetryLimit: 1,
				},
			},
		},
		{
			ID:          "educational_content",
			Name:        "Educational content",
			Description: "Outline a lesson, write the teaching material, draw diagrams, and produce a teaching video.",
			Tags:        []string{"education", "teaching", "video"},
			Parameters: []ParamSpec{
				{Name: "subject", Required: true, Description: "Subject the lesson teaches"},
				{Name: "target_audience", Default: "beginners", Description: "Audience the material is written for"},
			},
			Steps: []StepDefinition{
				{
					Name: "create_lesson_outline",
					Kind: StepGenerateText,
					Parameters: map[string]any{
						"prompt": "Create a detailed lesson outline for '{{subject}}' aimed at {{target_audience}}: three to five learning objectives, four to six sections with their key points, and suggested exercises.",
					},
					RetryLimit: 2,
				},
				{
					Name:      "generate_detailed_content",
					Kind:      StepGenerateText,
					DependsOn: []string{"create_lesson_outline"},
					InputKeys: []string{"create_lesson_outline"},
					Parameters: map[string]any{
						"prompt": "Write the full teaching material for '{{subject}}' following this outline: {{create_lesson_outline}}. Explain each point clearly with an example and a short summary.",
					},
					RetryLimit: 2,
				},
				{
					Name:      "create_educational_diagrams",
					Kind:      StepGenerateImage,
					DependsOn: []string{"create_lesson_outline"},
					InputKeys: []string{"create_lesson_outline"},
					Parameters: map[string]any{
						"prompt": "Create clean, minimal educational diagrams illustrating the concepts of '{{subject}}' for this outline: {{create_lesson_outline}}",
						"count":  2,
					},
					RetryLimit: 2,
				},
				{
					Name:      "create_teaching_video",
					Kind:      StepGenerateVideo,
					DependsOn: []string{"generate_detailed_content", "create_educational_diagrams"},
					InputKeys: []string{"generate_detailed_content"},
					Parameters: map[string]any{
						"prompt":     "Create a teaching video about '{{subject}}' for {{target_audience}}, presenting: {{generate_detailed_content}}",
						"duration_s": 30,
					},
					RetryLimit: 1,
				},
			},
		},
		{
			ID:          "social_media_content",
			Name:        "Social media content",
			Description: "Write a post, render feed and story images, and cut a short vertical video for one topic.",
			Tags:        []string{"social", "marketing", "short-video"},
			Parameters: []ParamSpec{
				{Name: "topic", Required: true, Description: "Topic the post is about"},
			},
			Steps: []StepDefinition{
				{
					Name: "generate_post_copy",
					Kind: StepGenerateText,
					Parameters: map[string]any{
						"prompt": "Write a catchy social media post about '{{topic}}': a hook opening, relevant hashtags, a call for engagement, 100-200 words, light and playful tone.",
					},
					RetryLimit: 2,
				},
				{
					Name: "create_social_images",
					Kind: StepGenerateImage,
					Parameters: map[string]any{
						"prompt": "Create an eye-catching square feed image and a vertical story image about '{{topic}}' in a young, modern style.",
						"count":  2,
					},
					RetryLimit: 2,
				},
				{
					Name:      "create_short_video",
					Kind:      StepGenerateVideo,
					DependsOn: []string{"generate_post_copy", "create_social_images"},
					InputKeys: []string{"generate_post_copy"},
					Parameters: map[string]any{
						"prompt":     "Create an energetic short vertical video about '{{topic}}' built around this post: {{generate_post_copy}}",
						"duration_s": 10,
					},
					RetryLimit: 1,
				},
			},
		},
	}
}
