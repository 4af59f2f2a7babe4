package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/lotas/studzo/internal/types"
)

// Field is one form input of a mode.
type Field struct {
	Name      string
	Label     string
	Default   string
	Numeric   bool
	Integer   bool
	Multiline bool
}

// Input is the snapshot a mode is dispatched with.
type Input struct {
	Screen  string
	Mode    string
	Fields  map[string]string
	Profile types.Profile
}

// Get returns a trimmed field value.
func (in Input) Get(name string) string {
	return strings.TrimSpace(in.Fields[name])
}

// Mode is one callable analysis of a screen.
type Mode struct {
	ID       string
	Title    string
	Method   string
	Endpoint string
	Fields   []Field

	// Required lists fields that must be non-empty. Each entry may name
	// alternatives separated by "|", any one of which satisfies it.
	Required []string
	// TextField names the field filled from the url field when empty.
	TextField string

	build func(in Input) any
}

// Screen groups related modes, like one page of the application.
type Screen struct {
	ID    string
	Title string
	Modes []Mode
}

// Mode returns the mode with the given id.
func (s Screen) Mode(id string) (Mode, bool) {
	for _, m := range s.Modes {
		if m.ID == id {
			return m, true
		}
	}
	return Mode{}, false
}

// Validate checks required, numeric and structured fields. Failures are
// ValidationRejected errors; nothing is sent.
func (m Mode) Validate(in Input) error {
	var missing []string
	for _, req := range m.Required {
		ok := false
		for _, alt := range strings.Split(req, "|") {
			if in.Get(alt) != "" {
				ok = true
				break
			}
		}
		if !ok {
			missing = append(missing, strings.ReplaceAll(req, "|", " or "))
		}
	}
	if len(missing) > 0 {
		return types.Errorf(types.KindValidationRejected, "%s: missing %s", m.ID, strings.Join(missing, ", "))
	}

	for _, f := range m.Fields {
		v := in.Get(f.Name)
		if v == "" {
			continue
		}
		switch {
		case f.Integer:
			if _, err := strconv.Atoi(v); err != nil {
				return types.Errorf(types.KindValidationRejected, "%s must be a whole number", f.Label)
			}
		case f.Numeric:
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return types.Errorf(types.KindValidationRejected, "%s must be a number", f.Label)
			}
		}
	}

	if v := in.Get("candidates"); v != "" {
		var list []map[string]any
		if err := json.Unmarshal([]byte(v), &list); err != nil {
			return types.Errorf(types.KindValidationRejected, "candidates must be a JSON list of objects")
		}
	}
	return nil
}

// Body builds the request body for a validated input.
func (m Mode) Body(in Input) any {
	if m.build == nil {
		return nil
	}
	return m.build(in)
}

// Defaults returns the initial form for a mode, prefilled from the profile.
func (m Mode) Defaults(p types.Profile) map[string]string {
	pf := p.Fields()
	form := make(map[string]string, len(m.Fields))
	for _, f := range m.Fields {
		if v := pf[f.Name]; v != "" {
			form[f.Name] = v
			continue
		}
		if f.Default != "" {
			form[f.Name] = f.Default
		}
	}
	return form
}

// Lookup finds a screen and mode in the catalog.
func Lookup(screen, mode string) (Screen, Mode, error) {
	for _, s := range Catalog {
		if s.ID != screen {
			continue
		}
		if m, ok := s.Mode(mode); ok {
			return s, m, nil
		}
		return s, Mode{}, fmt.Errorf("screen %q has no mode %q", screen, mode)
	}
	return Screen{}, Mode{}, fmt.Errorf("unknown screen %q", screen)
}

// FindScreen returns the screen with the given id.
func FindScreen(id string) (Screen, error) {
	for _, s := range Catalog {
		if s.ID == id {
			return s, nil
		}
	}
	return Screen{}, errors.New("unknown screen " + strconv.Quote(id))
}

// --- body helpers ---

func number(in Input, name string) float64 {
	f, _ := strconv.ParseFloat(in.Get(name), 64)
	return f
}

func integer(in Input, name string, def int) int {
	n, err := strconv.Atoi(in.Get(name))
	if err != nil {
		return def
	}
	return n
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// userProfile is the profile as sent to endpoints, with form overrides for
// the fields the screen lets the user edit.
func userProfile(in Input) map[string]any {
	p := in.Profile
	for _, name := range []string{"habits", "major", "interests", "university", "name"} {
		if v := in.Get(name); v != "" {
			p.Set(name, v)
		}
	}
	out := map[string]any{"name": orDefault(p.Name, "Me")}
	for k, v := range p.Fields() {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func candidates(in Input) []map[string]any {
	list := []map[string]any{}
	if v := in.Get("candidates"); v != "" {
		json.Unmarshal([]byte(v), &list)
	}
	return list
}

var textFields = []Field{
	{Name: "text", Label: "Text", Multiline: true},
	{Name: "url", Label: "or URL"},
}

func textBody(in Input) any {
	return map[string]any{"text": in.Get("text")}
}

// Catalog lists every screen the client offers.
var Catalog = []Screen{
	{
		ID:    "accommodation",
		Title: "Hostel & Roommate Finder",
		Modes: []Mode{
			{
				ID: "roommate", Title: "Roommate Finder",
				Method: http.MethodPost, Endpoint: "/ai/roommate-match",
				Fields: []Field{
					{Name: "habits", Label: "Habits", Default: "Quiet, Studious"},
					{Name: "major", Label: "Major"},
					{Name: "candidates", Label: "Candidates (JSON)", Multiline: true},
				},
				Required: []string{"habits"},
				build: func(in Input) any {
					return map[string]any{"user_profile": userProfile(in), "candidates": candidates(in)}
				},
			},
			{
				ID: "hostel", Title: "Hostel Search",
				Method: http.MethodPost, Endpoint: "/ai/hostel-discovery",
				Fields: []Field{
					{Name: "query", Label: "Search"},
					{Name: "city", Label: "City"},
					{Name: "max_price", Label: "Max price", Numeric: true},
				},
				Required: []string{"query"},
				build: func(in Input) any {
					filters := map[string]any{}
					if c := in.Get("city"); c != "" {
						filters["city"] = c
					}
					if in.Get("max_price") != "" {
						filters["max_price"] = number(in, "max_price")
					}
					return map[string]any{"query": in.Get("query"), "filters": filters}
				},
			},
			{
				ID: "lease", Title: "Lease Check",
				Method: http.MethodPost, Endpoint: "/ai/lease-analysis",
				Fields:    textFields,
				Required:  []string{"text|url"},
				TextField: "text",
				build:     textBody,
			},
			{
				ID: "listing", Title: "Listing Check",
				Method: http.MethodPost, Endpoint: "/ai/analyze-housing",
				Fields: []Field{
					{Name: "title", Label: "Title"},
					{Name: "price", Label: "Price", Numeric: true},
					{Name: "location", Label: "Location"},
					{Name: "description", Label: "Description", Multiline: true},
					{Name: "url", Label: "or URL"},
				},
				Required:  []string{"description|url"},
				TextField: "description",
				build: func(in Input) any {
					listing := map[string]any{
						"title":       in.Get("title"),
						"location":    in.Get("location"),
						"description": in.Get("description"),
					}
					if in.Get("price") != "" {
						listing["price"] = number(in, "price")
					}
					if u := in.Get("url"); u != "" {
						listing["url"] = u
					}
					return map[string]any{"listing_data": listing}
				},
			},
		},
	},
	{
		ID:    "jobs",
		Title: "Job Finder",
		Modes: []Mode{
			{
				ID: "finder", Title: "Find Jobs",
				Method: http.MethodPost, Endpoint: "/ai/job-finder",
				Fields: []Field{
					{Name: "query", Label: "Looking for"},
					{Name: "major", Label: "Major"},
				},
				build: func(in Input) any {
					return map[string]any{"user_profile": userProfile(in), "query": in.Get("query")}
				},
			},
			{
				ID: "scam-check", Title: "Scam Check",
				Method: http.MethodPost, Endpoint: "/ai/job-scam-check",
				Fields:    textFields,
				Required:  []string{"text|url"},
				TextField: "text",
				build:     textBody,
			},
		},
	},
	{
		ID:    "finance",
		Title: "Financial Aid",
		Modes: []Mode{
			{
				ID: "planner", Title: "Advisor",
				Method: http.MethodPost, Endpoint: "/ai/financial-guidance",
				Fields: []Field{
					{Name: "host_country", Label: "Host country"},
					{Name: "home_country", Label: "Home country"},
					{Name: "length", Label: "Program length", Default: "1 year"},
					{Name: "income", Label: "Income", Numeric: true},
					{Name: "expenses", Label: "Expenses", Numeric: true},
					{Name: "rent", Label: "Rent", Numeric: true},
					{Name: "food", Label: "Food", Numeric: true},
					{Name: "other", Label: "Other", Numeric: true},
					{Name: "budget", Label: "Budget", Numeric: true},
					{Name: "query", Label: "Question"},
				},
				Required: []string{"host_country", "home_country"},
				build: func(in Input) any {
					return map[string]any{
						"host_country": in.Get("host_country"),
						"home_country": in.Get("home_country"),
						"length":       orDefault(in.Get("length"), "1 year"),
						"income":       number(in, "income"),
						"expenses":     number(in, "expenses"),
						"rent":         number(in, "rent"),
						"food":         number(in, "food"),
						"other":        number(in, "other"),
						"budget":       number(in, "budget"),
						"query":        in.Get("query"),
					}
				},
			},
			{
				ID: "scam-check", Title: "Scam Check",
				Method: http.MethodPost, Endpoint: "/ai/financial-risk",
				Fields:    textFields,
				Required:  []string{"text|url"},
				TextField: "text",
				build:     textBody,
			},
		},
	},
	{
		ID:    "culture",
		Title: "Cultural Guide",
		Modes: []Mode{
			{
				ID: "guidance", Title: "Guidance",
				Method: http.MethodPost, Endpoint: "/ai/cultural-guidance",
				Fields: []Field{
					{Name: "home_country", Label: "Home country"},
					{Name: "host_country", Label: "Host country"},
					{Name: "university", Label: "University"},
					{Name: "week", Label: "Week", Integer: true, Default: "1"},
					{Name: "challenges", Label: "Challenges", Multiline: true},
				},
				Required: []string{"home_country", "host_country"},
				build: func(in Input) any {
					return map[string]any{
						"home_country": in.Get("home_country"),
						"host_country": in.Get("host_country"),
						"university":   in.Get("university"),
						"week":         integer(in, "week", 1),
						"challenges":   in.Get("challenges"),
					}
				},
			},
			{
				ID: "discovery", Title: "Discover Events",
				Method: http.MethodPost, Endpoint: "/ai/cultural-discovery",
				Fields: []Field{
					{Name: "home_country", Label: "Home country"},
					{Name: "host_country", Label: "Host country"},
					{Name: "city", Label: "City"},
					{Name: "date_range", Label: "Dates", Default: "this month"},
				},
				Required: []string{"host_country", "city"},
				build: func(in Input) any {
					return map[string]any{
						"home_country": in.Get("home_country"),
						"host_country": in.Get("host_country"),
						"city":         in.Get("city"),
						"date_range":   orDefault(in.Get("date_range"), "this month"),
					}
				},
			},
		},
	},
	{
		ID:    "community",
		Title: "Community Finder",
		Modes: []Mode{
			{
				ID: "connect", Title: "Connect",
				Method: http.MethodPost, Endpoint: "/ai/community-connect",
				Fields: []Field{
					{Name: "query", Label: "Looking for"},
					{Name: "interests", Label: "Interests"},
				},
				build: func(in Input) any {
					return map[string]any{"user_profile": userProfile(in), "query": in.Get("query")}
				},
			},
			{
				ID: "ask", Title: "Ask",
				Method: http.MethodPost, Endpoint: "/ai/ask-community",
				Fields: []Field{
					{Name: "community_context", Label: "Community", Multiline: true},
					{Name: "question", Label: "Question"},
				},
				Required: []string{"question"},
				build: func(in Input) any {
					return map[string]any{
						"community_context": in.Get("community_context"),
						"question":          in.Get("question"),
					}
				},
			},
			{
				ID: "recommend", Title: "Recommendations",
				Method: http.MethodPost, Endpoint: "/ai/community-recommendations",
				Fields: []Field{
					{Name: "country", Label: "Country"},
					{Name: "interests", Label: "Interests"},
					{Name: "university", Label: "University"},
					{Name: "location", Label: "Location"},
					{Name: "budget", Label: "Budget", Numeric: true},
					{Name: "loneliness", Label: "Loneliness (1-10)", Integer: true, Default: "5"},
					{Name: "weeks", Label: "Weeks abroad", Integer: true, Default: "1"},
					{Name: "hours_per_week", Label: "Hours per week", Integer: true, Default: "5"},
				},
				Required: []string{"country", "interests"},
				build: func(in Input) any {
					return map[string]any{
						"country":        in.Get("country"),
						"interests":      in.Get("interests"),
						"university":     in.Get("university"),
						"location":       in.Get("location"),
						"budget":         number(in, "budget"),
						"loneliness":     integer(in, "loneliness", 5),
						"weeks":          integer(in, "weeks", 1),
						"hours_per_week": integer(in, "hours_per_week", 5),
						"events":         []any{},
					}
				},
			},
		},
	},
	{
		ID:    "health",
		Title: "Health Insurance",
		Modes: []Mode{
			{
				ID: "insurance", Title: "Insurance Advice",
				Method: http.MethodPost, Endpoint: "/ai/health-insurance",
				Fields: []Field{
					{Name: "query_text", Label: "Your situation", Multiline: true},
				},
				Required: []string{"query_text"},
				build: func(in Input) any {
					return map[string]any{"query_text": in.Get("query_text")}
				},
			},
		},
	},
	{
		ID:    "safety",
		Title: "Emergency Support",
		Modes: []Mode{
			{
				ID: "emergency", Title: "Emergency",
				Method: http.MethodPost, Endpoint: "/ai/emergency-support",
				Fields: []Field{
					{Name: "input_text", Label: "What is happening", Multiline: true},
					{Name: "language", Label: "Language", Default: "en"},
				},
				Required: []string{"input_text"},
				build: func(in Input) any {
					return map[string]any{
						"input_text": in.Get("input_text"),
						"language":   orDefault(in.Get("language"), "en"),
					}
				},
			},
		},
	},
	{
		ID:    "insights",
		Title: "AI Analytics",
		Modes: []Mode{
			{
				ID: "analytics", Title: "Usage",
				Method: http.MethodGet, Endpoint: "/ai/analytics",
			},
		},
	},
}
