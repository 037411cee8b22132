package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/recipe-chat/backend/internal/model/chef"
)

// recipeFormat is appended to every system prompt so generated recipes can
// be saved to the library without post-processing.
const recipeFormat = `When you propose a recipe, use this layout:
# <title>
Serves: <n> | Prep: <minutes> | Cook: <minutes>
## Ingredients
- <quantity> <ingredient>
## Steps
1. <step>
Ask a clarifying question instead of guessing when the request is ambiguous.`

// PromptTemplate defines the structure for chef prompts
type PromptTemplate struct {
	SystemPrompt   string
	KitchenRules   []string
	StyleHints     []string
	WelcomeMessage string
}

// ChefPromptManager manages prompt templates for different chefs
type ChefPromptManager struct {
	templates map[string]*PromptTemplate
}

// NewChefPromptManager creates a new prompt manager with default templates
func NewChefPromptManager() *ChefPromptManager {
	manager := &ChefPromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the prompt template for a given chef
func (pm *ChefPromptManager) GetPromptTemplate(chefID string) (*PromptTemplate, error) {
	template, exists := pm.templates[chefID]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for chef: %s", chefID)
	}
	return template, nil
}

// BuildSystemPrompt creates the system prompt for the chef
func (pm *ChefPromptManager) BuildSystemPrompt(c *chef.Chef) string {
	template, err := pm.GetPromptTemplate(c.ID)
	if err != nil {
		return pm.buildBasicSystemPrompt(c)
	}

	return fmt.Sprintf(`%s

Profile:
- Name: %s
- Title: %s
- Tone: %s
- Cuisine: %s
- Specialties: %s%s

Style:
- %s

Kitchen rules:
- %s

%s`,
		template.SystemPrompt,
		c.Name,
		c.Title,
		c.Tone,
		c.Cuisine,
		strings.Join(c.Specialties, ", "),
		dietaryLine(c),
		strings.Join(template.StyleHints, "\n- "),
		strings.Join(template.KitchenRules, "\n- "),
		recipeFormat,
	)
}

func (pm *ChefPromptManager) buildBasicSystemPrompt(c *chef.Chef) string {
	return fmt.Sprintf(`You are %s, %s, a recipe assistant.
Tone: %s
Guidance: %s%s

%s`,
		c.Name,
		c.Title,
		c.Tone,
		c.PromptHint,
		dietaryLine(c),
		recipeFormat,
	)
}

func dietaryLine(c *chef.Chef) string {
	if len(c.Dietary) == 0 {
		return ""
	}
	return "\n- Dietary: " + strings.Join(c.Dietary, ", ")
}

// loadDefaultTemplates loads the prompt templates for the seeded chefs
func (pm *ChefPromptManager) loadDefaultTemplates() {
	pm.templates["nonna-rosa"] = &PromptTemplate{
		SystemPrompt:   "You are Nonna Rosa, an Italian grandmother who has cooked for a big family all her life. You teach while you cook.",
		WelcomeMessage: "Come, sit. Tell me what is in your kitchen and we will make something good together.",
		StyleHints: []string{
			"Speak warmly and tell short stories about the dish when it helps",
			"Explain the reason behind each technique",
			"Prefer seasonal, simple ingredients over shortcuts",
		},
		KitchenRules: []string{
			"Give metric quantities with a cup equivalent",
			"Suggest a wine or side when it fits the dish",
			"Offer one make-ahead tip per recipe",
		},
	}

	pm.templates["chef-kenji"] = &PromptTemplate{
		SystemPrompt:   "You are Kenji, a food-science minded cook who helps busy people get dinner on the table.",
		WelcomeMessage: "Hungry and short on time? Give me your ingredients and I'll build a plan.",
		StyleHints: []string{
			"Be concise and precise",
			"Mention the science behind a step in one sentence at most",
			"Order steps so prep overlaps with cooking",
		},
		KitchenRules: []string{
			"Keep total time under 45 minutes unless asked otherwise",
			"Give exact weights and temperatures",
			"List equipment before ingredients when special tools are needed",
		},
	}

	pm.templates["green-table"] = &PromptTemplate{
		SystemPrompt:   "You are Maya, a plant-based chef who makes vegetables the star of every meal.",
		WelcomeMessage: "Let's cook something colourful. Any allergies or ingredients you want to use up?",
		StyleHints: []string{
			"Stay upbeat and encouraging",
			"Point out protein sources in each recipe",
		},
		KitchenRules: []string{
			"Never use animal products",
			"Offer a substitution for common allergens such as nuts, soy and gluten",
			"Flag recipes that freeze well",
		},
	}
}
