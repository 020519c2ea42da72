package report

import (
	"strings"

	"github.com/alouette-a11y/alouette/internal/model"
)

// advice is the plain-language text shown for a rule.
type advice struct {
	Title       string
	Explanation string
	Remediation string
}

var remediations = map[string]advice{
	"color-contrast": {
		Title:       "Textes peu lisibles (contraste insuffisant)",
		Explanation: "Certains textes n'ont pas assez de contraste avec leur arrière-plan. Les personnes malvoyantes ou consultant le site en plein soleil ont du mal à les lire.",
		Remediation: "Foncez la couleur du texte ou éclaircissez le fond pour atteindre un rapport de contraste d'au moins 4,5:1 (3:1 pour les grands textes).",
	},
	"image-alt": {
		Title:       "Images sans description",
		Explanation: "Des images n'ont pas de texte alternatif. Les lecteurs d'écran ne peuvent pas décrire leur contenu aux personnes aveugles.",
		Remediation: "Ajoutez un attribut alt décrivant l'image. Pour une image purement décorative, utilisez alt=\"\".",
	},
	"link-name": {
		Title:       "Liens sans intitulé",
		Explanation: "Des liens n'ont aucun texte compréhensible. Un lecteur d'écran annonce seulement « lien » sans indiquer sa destination.",
		Remediation: "Donnez à chaque lien un texte visible explicite, ou un attribut aria-label lorsque le lien ne contient qu'une icône.",
	},
	"label": {
		Title:       "Champs de formulaire sans étiquette",
		Explanation: "Des champs de saisie ne sont associés à aucune étiquette. Les utilisateurs de lecteurs d'écran ne savent pas quoi y saisir.",
		Remediation: "Associez un élément <label for=\"...\"> à chaque champ, ou utilisez aria-labelledby.",
	},
	"list": {
		Title:       "Listes mal structurées",
		Explanation: "Des listes contiennent des éléments autres que des <li>. Leur structure n'est pas restituée correctement par les technologies d'assistance.",
		Remediation: "Placez uniquement des éléments <li> (ou <script>/<template>) directement dans les <ul> et <ol>.",
	},
	"listitem": {
		Title:       "Éléments de liste isolés",
		Explanation: "Des éléments <li> sont utilisés en dehors d'une liste.",
		Remediation: "Entourez les éléments <li> d'une balise <ul> ou <ol>.",
	},
	"button-name": {
		Title:       "Boutons sans intitulé",
		Explanation: "Des boutons n'ont pas de nom accessible. Leur fonction est inconnue pour les utilisateurs de lecteurs d'écran.",
		Remediation: "Ajoutez un texte au bouton, ou un aria-label lorsqu'il ne contient qu'une icône.",
	},
	"html-has-lang": {
		Title:       "Langue de la page non déclarée",
		Explanation: "La page n'indique pas sa langue. Les lecteurs d'écran risquent de la prononcer avec le mauvais accent.",
		Remediation: "Ajoutez l'attribut lang sur la balise <html>, par exemple <html lang=\"fr\">.",
	},
	"document-title": {
		Title:       "Page sans titre",
		Explanation: "La page n'a pas de balise <title>. Les utilisateurs ne peuvent pas identifier l'onglet ou la page.",
		Remediation: "Ajoutez un <title> unique et descriptif dans l'en-tête de chaque page.",
	},
	"heading-order": {
		Title:       "Hiérarchie des titres incohérente",
		Explanation: "Des niveaux de titres sont sautés (par exemple un <h4> directement après un <h2>). La navigation par titres devient confuse.",
		Remediation: "Respectez l'ordre des niveaux de titres sans en sauter.",
	},
	"landmark-one-main": {
		Title:       "Zone de contenu principal absente",
		Explanation: "La page ne déclare pas de zone principale. Les utilisateurs ne peuvent pas accéder directement au contenu.",
		Remediation: "Entourez le contenu principal d'une balise <main>.",
	},
	"region": {
		Title:       "Contenu hors des zones de la page",
		Explanation: "Une partie du contenu n'est contenue dans aucune zone (en-tête, navigation, contenu principal, pied de page).",
		Remediation: "Placez tout le contenu dans des éléments <header>, <nav>, <main> ou <footer>.",
	},
	"frame-title": {
		Title:       "Cadres sans titre",
		Explanation: "Des <iframe> n'ont pas de titre. Leur contenu n'est pas annoncé.",
		Remediation: "Ajoutez un attribut title décrivant le contenu de chaque <iframe>.",
	},
	"duplicate-id": {
		Title:       "Identifiants en double",
		Explanation: "Plusieurs éléments partagent le même identifiant, ce qui peut casser les associations entre étiquettes et champs.",
		Remediation: "Rendez chaque attribut id unique dans la page.",
	},
}

// adviceFor returns the advice of ruleID, falling back to the engine's own
// description and help link.
func adviceFor(v model.RawViolation) advice {
	if a, ok := remediations[v.RuleID]; ok {
		return a
	}
	title := v.Help
	if title == "" {
		title = v.RuleID
	}
	fix := "Corrigez les éléments signalés."
	if v.HelpURL != "" {
		fix = "Consultez la documentation de la règle : " + v.HelpURL
	}
	return advice{
		Title:       title,
		Explanation: strings.TrimSpace(v.Description),
		Remediation: fix,
	}
}
