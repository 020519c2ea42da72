// Package rgaa maps axe-core rule identifiers to criteria of the French
// accessibility referential (RGAA 4).
package rgaa

import "github.com/alouette-a11y/alouette/internal/model"

// Unmapped is returned for rules with no known criterion.
var Unmapped = model.Criterion{Code: "N/A", Name: "Unmapped"}

var criteria = map[string]model.Criterion{
	// Images
	"image-alt":           {Code: "1.1", Name: "Alternative textuelle pour les images"},
	"input-image-alt":     {Code: "1.1", Name: "Alternative textuelle pour les images"},
	"area-alt":            {Code: "1.1", Name: "Alternative textuelle pour les images"},
	"role-img-alt":        {Code: "1.1", Name: "Alternative textuelle pour les images"},
	"svg-img-alt":         {Code: "1.1", Name: "Alternative textuelle pour les images"},
	"object-alt":          {Code: "1.1", Name: "Alternative textuelle pour les images"},
	"image-redundant-alt": {Code: "1.3", Name: "Pertinence de l'alternative textuelle"},

	// Frames
	"frame-title":        {Code: "2.1", Name: "Titre de cadre"},
	"frame-title-unique": {Code: "2.2", Name: "Pertinence du titre de cadre"},

	// Colours
	"color-contrast":     {Code: "3.3", Name: "Contrastes de couleurs"},
	"link-in-text-block": {Code: "3.1", Name: "Information donnée par la couleur"},

	// Multimedia
	"video-caption": {Code: "4.3", Name: "Sous-titres synchronisés"},
	"audio-caption": {Code: "4.1", Name: "Transcription textuelle"},

	// Tables
	"td-headers-attr":      {Code: "5.7", Name: "Association des cellules aux en-têtes"},
	"th-has-data-cells":    {Code: "5.7", Name: "Association des cellules aux en-têtes"},
	"td-has-header":        {Code: "5.7", Name: "Association des cellules aux en-têtes"},
	"table-duplicate-name": {Code: "5.5", Name: "Titre de tableau"},

	// Links
	"link-name": {Code: "6.1", Name: "Intitulé de lien explicite"},

	// Scripts and ARIA
	"aria-allowed-attr":           {Code: "7.1", Name: "Compatibilité des scripts avec les technologies d'assistance"},
	"aria-required-attr":          {Code: "7.1", Name: "Compatibilité des scripts avec les technologies d'assistance"},
	"aria-valid-attr":             {Code: "7.1", Name: "Compatibilité des scripts avec les technologies d'assistance"},
	"aria-valid-attr-value":       {Code: "7.1", Name: "Compatibilité des scripts avec les technologies d'assistance"},
	"aria-roles":                  {Code: "7.1", Name: "Compatibilité des scripts avec les technologies d'assistance"},
	"aria-hidden-focus":           {Code: "7.1", Name: "Compatibilité des scripts avec les technologies d'assistance"},
	"nested-interactive":          {Code: "7.1", Name: "Compatibilité des scripts avec les technologies d'assistance"},
	"scrollable-region-focusable": {Code: "7.3", Name: "Contrôle des scripts au clavier"},

	// Mandatory elements
	"html-has-lang":     {Code: "8.3", Name: "Langue par défaut"},
	"html-lang-valid":   {Code: "8.4", Name: "Pertinence du code de langue"},
	"valid-lang":        {Code: "8.8", Name: "Code de langue des changements de langue"},
	"document-title":    {Code: "8.5", Name: "Titre de page"},
	"duplicate-id":      {Code: "8.2", Name: "Validité du code source"},
	"duplicate-id-aria": {Code: "8.2", Name: "Validité du code source"},
	"marquee":           {Code: "13.8", Name: "Contenu en mouvement ou clignotant"},
	"blink":             {Code: "13.8", Name: "Contenu en mouvement ou clignotant"},

	// Structure
	"list":                 {Code: "9.1", Name: "Structure de liste"},
	"listitem":             {Code: "9.1", Name: "Structure de liste"},
	"definition-list":      {Code: "9.1", Name: "Structure de liste"},
	"dlitem":               {Code: "9.1", Name: "Structure de liste"},
	"heading-order":        {Code: "9.1", Name: "Hiérarchie des titres"},
	"empty-heading":        {Code: "9.1", Name: "Hiérarchie des titres"},
	"page-has-heading-one": {Code: "9.1", Name: "Hiérarchie des titres"},
	"landmark-one-main":    {Code: "12.6", Name: "Zones de regroupement de contenus"},
	"region":               {Code: "12.6", Name: "Zones de regroupement de contenus"},

	// Presentation
	"meta-viewport": {Code: "10.4", Name: "Lisibilité en cas d'agrandissement"},

	// Forms
	"label":              {Code: "11.1", Name: "Étiquette de champ de formulaire"},
	"select-name":        {Code: "11.1", Name: "Étiquette de champ de formulaire"},
	"label-title-only":   {Code: "11.1", Name: "Étiquette de champ de formulaire"},
	"button-name":        {Code: "11.9", Name: "Intitulé de bouton"},
	"input-button-name":  {Code: "11.9", Name: "Intitulé de bouton"},
	"autocomplete-valid": {Code: "11.13", Name: "Finalité des champs de saisie"},

	// Navigation
	"bypass":   {Code: "12.7", Name: "Lien d'évitement"},
	"tabindex": {Code: "12.8", Name: "Ordre de tabulation"},

	// Consultation
	"meta-refresh": {Code: "13.1", Name: "Limite de temps"},
}

// Lookup returns the criterion for ruleID, or Unmapped. It never fails.
func Lookup(ruleID string) model.Criterion {
	if c, ok := criteria[ruleID]; ok {
		return c
	}
	return Unmapped
}

// Map returns vs with each violation's Criterion filled in.
func Map(vs []model.RawViolation) []model.RawViolation {
	out := make([]model.RawViolation, len(vs))
	for i, v := range vs {
		v.Criterion = Lookup(v.RuleID)
		out[i] = v
	}
	return out
}
