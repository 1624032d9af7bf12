// Package aisle guesses the grocery category of an item from its name.
package aisle

import (
	"strings"
	"unicode"

	"github.com/Cameron64/HoneyDo-sub002/internal/model"
)

// maxWords is the longest keyword phrase, in words.
const maxWords = 3

var keywords = map[model.Category][]string{
	model.CategoryProduce: {
		"apple", "banana", "orange", "lemon", "lime", "avocado", "tomato", "potato", "onion",
		"garlic", "lettuce", "spinach", "kale", "broccoli", "carrot", "celery", "cucumber",
		"pepper", "mushroom", "corn", "grape", "strawberries", "blueberries", "raspberries",
		"watermelon", "pear", "peach", "zucchini", "eggplant", "cilantro", "parsley", "ginger",
		"green beans", "sweet potato", "bell pepper",
	},
	model.CategoryDairy: {
		"milk", "cheese", "butter", "yogurt", "cream", "egg", "sour cream", "cream cheese",
		"cottage cheese", "half and half", "whipped cream", "cheddar", "mozzarella", "parmesan",
	},
	model.CategoryMeatSeafood: {
		"chicken", "beef", "pork", "steak", "bacon", "sausage", "ham", "turkey", "salmon",
		"shrimp", "tuna steak", "ground beef", "ground turkey", "lamb", "fish", "tilapia", "cod",
	},
	model.CategoryBakery: {
		"bread", "bagel", "muffin", "croissant", "tortilla", "bun", "roll", "baguette",
		"pita", "english muffin", "hamburger bun", "hot dog bun",
	},
	model.CategoryPantry: {
		"rice", "pasta", "flour", "sugar", "salt", "oil", "olive oil", "vinegar", "cereal",
		"oatmeal", "beans", "soup", "peanut butter", "jelly", "honey", "ketchup", "mustard",
		"mayo", "mayonnaise", "spaghetti sauce", "tomato sauce", "canned tuna", "broth",
		"baking soda", "baking powder", "chocolate chips", "spice", "noodle",
	},
	model.CategoryFrozen: {
		"ice cream", "frozen pizza", "frozen vegetables", "frozen fruit", "waffle", "popsicle",
		"fish sticks", "tater tots", "frozen dinner", "ice",
	},
	model.CategoryBeverages: {
		"water", "coffee", "tea", "juice", "soda", "beer", "wine", "sparkling water",
		"orange juice", "kombucha", "lemonade",
	},
	model.CategorySnacks: {
		"chips", "crackers", "cookie", "pretzel", "popcorn", "granola bar", "nuts", "candy",
		"chocolate", "trail mix", "salsa",
	},
	model.CategoryHousehold: {
		"paper towels", "toilet paper", "trash bags", "dish soap", "detergent",
		"laundry detergent", "sponge", "aluminum foil", "foil", "plastic wrap", "napkins",
		"bleach", "batteries", "light bulbs", "dishwasher pods",
	},
	model.CategoryPersonalCare: {
		"shampoo", "conditioner", "soap", "body wash", "toothpaste", "toothbrush", "deodorant",
		"lotion", "razor", "floss", "sunscreen", "tissues", "cotton swabs",
	},
}

// modifiers decide the category on their own when they lead the name.
var modifiers = map[string]model.Category{
	"frozen": model.CategoryFrozen,
	"canned": model.CategoryPantry,
}

var index = buildIndex()

func buildIndex() map[string]model.Category {
	idx := make(map[string]model.Category)
	for cat, words := range keywords {
		for _, w := range words {
			idx[w] = cat
		}
	}
	return idx
}

// Guess returns the category for an item name, or CategoryOther. Longer
// phrases win over single words, and among equals the rightmost wins, since
// the noun that names the product usually comes last.
func Guess(name string) model.Category {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 0 {
		return model.CategoryOther
	}
	if cat, ok := modifiers[words[0]]; ok && len(words) > 1 {
		return cat
	}

	for n := min(maxWords, len(words)); n > 0; n-- {
		for start := len(words) - n; start >= 0; start-- {
			if cat, ok := lookup(words[start : start+n]); ok {
				return cat
			}
		}
	}
	return model.CategoryOther
}

// lookup matches a phrase as written, then with its last word made singular.
func lookup(phrase []string) (model.Category, bool) {
	joined := strings.Join(phrase, " ")
	if cat, ok := index[joined]; ok {
		return cat, true
	}
	for _, suffix := range []string{"es", "s"} {
		if trimmed, ok := strings.CutSuffix(joined, suffix); ok {
			if cat, ok := index[trimmed]; ok {
				return cat, true
			}
		}
	}
	return "", false
}
