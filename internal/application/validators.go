package application

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-council/internal/domain"
)

// templatePlaceholders lists, per stage, the placeholder groups a template
// must contain. A group is satisfied when any one of its members appears.
// Stage 1 needs the full query so attachments and tool context reach the
// council; {user_query} may appear in addition.
var templatePlaceholders = map[string][][]string{
	"stage1": {{PlaceholderFullQuery}},
	"stage2": {{PlaceholderUserQuery}, {PlaceholderResponsesText}},
	"stage3": {{PlaceholderUserQuery}, {PlaceholderStage1Text}, {PlaceholderStage2Text}},
}

// missingPlaceholders returns the placeholder groups absent from tmpl. Each
// entry is rendered as "a or b" for groups with alternatives.
func missingPlaceholders(stage, tmpl string) []string {
	var missing []string
	for _, group := range templatePlaceholders[stage] {
		if !slices.ContainsFunc(group, func(p string) bool { return strings.Contains(tmpl, p) }) {
			missing = append(missing, strings.Join(group, " or "))
		}
	}
	return missing
}

var settingsValidator = sync.OnceValues(newSettingsValidator)

// Validate checks s and returns a *domain.ConfigurationError describing the
// first problem found.
func (s Settings) Validate() error {
	v, err := settingsValidator()
	if err != nil {
		return err
	}
	if err := v.Struct(s); err != nil {
		return toConfigurationError(err)
	}
	return nil
}

// newSettingsValidator returns a validator with the settings rules
// registered and field names reported by their yaml key.
func newSettingsValidator() (*validator.Validate, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	if err := RegisterSettingsValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	return v, nil
}

// RegisterSettingsValidators registers the custom "modelid" and
// "placeholders" tags and the cross-field council rules.
func RegisterSettingsValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("modelid", validateModelID); err != nil {
		return fmt.Errorf("failed to register modelid validator: %w", err)
	}
	if err := v.RegisterValidation("placeholders", validatePlaceholders); err != nil {
		return fmt.Errorf("failed to register placeholders validator: %w", err)
	}
	v.RegisterStructValidation(validateCouncil, Settings{})
	return nil
}

// validateModelID accepts "provider/model" identifiers as well as bare local
// names such as "llama3:8b". Whitespace and empty path segments are
// rejected.
func validateModelID(fl validator.FieldLevel) bool {
	model := fl.Field().String()
	if model == "" {
		return false
	}
	if strings.IndexFunc(model, unicode.IsSpace) >= 0 {
		return false
	}
	provider, name, found := strings.Cut(model, "/")
	if !found {
		return true
	}
	return provider != "" && name != "" && !strings.HasSuffix(name, "/")
}

// validatePlaceholders checks a prompt template for the placeholders its
// stage (the tag parameter) needs.
func validatePlaceholders(fl validator.FieldLevel) bool {
	return len(missingPlaceholders(fl.Param(), fl.Field().String())) == 0
}

// validateCouncil enforces the rules that span fields: the council fits
// under max_council_models and seats the chairman.
func validateCouncil(sl validator.StructLevel) {
	s := sl.Current().Interface().(Settings)

	if s.MaxCouncilModels > 0 && len(s.CouncilModels) > s.MaxCouncilModels {
		sl.ReportError(s.CouncilModels, "council_models", "CouncilModels", "maxcouncil", fmt.Sprint(s.MaxCouncilModels))
	}
	if s.ChairmanModel != "" && !slices.Contains(s.CouncilModels, s.ChairmanModel) {
		sl.ReportError(s.ChairmanModel, "chairman_model", "ChairmanModel", "incouncil", "")
	}
}

// toConfigurationError converts validator output into the domain's
// ConfigurationError, describing only the first failing rule.
func toConfigurationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewConfigurationError("settings", err.Error())
	}

	fe := verrs[0]
	field := fe.Field()
	var reason string
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "min":
		reason = fmt.Sprintf("needs at least %s entries", fe.Param())
	case "unique":
		reason = "contains duplicate models"
	case "modelid":
		reason = fmt.Sprintf("invalid model identifier %q", fe.Value())
	case "placeholders":
		stage := fe.Param()
		tmpl, _ := fe.Value().(string)
		reason = fmt.Sprintf("%s template is missing %s", stage, strings.Join(missingPlaceholders(stage, tmpl), ", "))
	case "gte", "lte":
		reason = fmt.Sprintf("value %v is out of range (%s %s)", fe.Value(), fe.Tag(), fe.Param())
	case "oneof":
		reason = fmt.Sprintf("%q is not one of: %s", fe.Value(), fe.Param())
	case "maxcouncil":
		reason = fmt.Sprintf("council has more than %s models", fe.Param())
	case "incouncil":
		reason = fmt.Sprintf("chairman %q is not a council member", fe.Value())
	default:
		reason = fmt.Sprintf("failed %q validation", fe.Tag())
	}

	if ns := fe.Namespace(); strings.Contains(ns, "[") {
		// Element of council_models: keep the index for the caller.
		field = ns[strings.Index(ns, ".")+1:]
	}
	return domain.NewConfigurationError(field, reason)
}
