package memstore

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/victornm/afribourse/internal/domain"
)

// DemoModuleID is the module loaded by Seed.
const DemoModuleID = "m1-bourse-basics"

var demoQuestions = []struct {
	prompt      string
	options     []string
	correct     int
	explanation string
}{
	{"Que signifie BRVM ?", []string{"Bourse Régionale des Valeurs Mobilières", "Banque Régionale de Valeurs Monétaires", "Bureau Régional des Valeurs du Marché"}, 0, "La BRVM est la bourse commune aux huit pays de l'UEMOA."},
	{"Où se trouve le siège de la BRVM ?", []string{"Dakar", "Abidjan", "Lomé", "Cotonou"}, 1, "Le siège est à Abidjan, en Côte d'Ivoire."},
	{"Combien de pays partagent la BRVM ?", []string{"5", "6", "8", "15"}, 2, "Les huit pays membres de l'UEMOA."},
	{"Dans quelle monnaie les titres sont-ils cotés ?", []string{"Euro", "Dollar", "Franc CFA (XOF)"}, 2, "Les cotations sont en francs CFA."},
	{"Qu'est-ce qu'une action ?", []string{"Un prêt à une entreprise", "Une part du capital d'une entreprise", "Un compte d'épargne"}, 1, "L'actionnaire détient une fraction du capital."},
	{"Qu'est-ce qu'une obligation ?", []string{"Une part du capital", "Un titre de créance", "Un dividende"}, 1, "L'obligataire prête de l'argent à l'émetteur."},
	{"Comment s'appelle la part du bénéfice versée aux actionnaires ?", []string{"Le coupon", "Le dividende", "La plus-value"}, 1, "Le dividende est décidé en assemblée générale."},
	{"Qui peut passer un ordre en bourse pour un particulier ?", []string{"N'importe quelle banque", "Une SGI", "Le Trésor public"}, 1, "Les Sociétés de Gestion et d'Intermédiation sont les intermédiaires agréés."},
	{"Quel indice regroupe toutes les valeurs de la BRVM ?", []string{"BRVM Composite", "CAC 40", "NGX ASI"}, 0, "Le BRVM Composite couvre l'ensemble de la cote."},
	{"Diversifier un portefeuille sert à :", []string{"Augmenter les frais", "Réduire le risque", "Garantir un gain"}, 1, "Répartir ses placements limite l'effet d'un mauvais titre."},
	{"Un ordre à cours limité :", []string{"S'exécute à n'importe quel prix", "Fixe un prix maximum à l'achat", "Est réservé aux institutionnels"}, 1, "Il n'est exécuté qu'au prix fixé ou mieux."},
	{"Une plus-value est :", []string{"Un gain réalisé à la revente", "Une taxe", "Un type d'ordre"}, 0, "Vendre plus cher qu'on a acheté dégage une plus-value."},
}

var demoPrices = map[string]int64{
	"SNTS": 25000,
	"ORGT": 10500,
	"SGBC": 22000,
	"ETIT": 20,
	"SIVC": 1500,
}

// Seed loads a demo module and stock prices.
func Seed(q *Quiz, l *Ledger) {
	qs := make([]domain.Question, 0, len(demoQuestions))
	for i, d := range demoQuestions {
		qs = append(qs, domain.Question{
			QuestionID:   fmt.Sprintf("%s-q%02d", DemoModuleID, i+1),
			Prompt:       d.prompt,
			Options:      d.options,
			CorrectIndex: d.correct,
			Explanation:  d.explanation,
		})
	}

	q.AddModule(domain.Module{
		ModuleID:     DemoModuleID,
		Slug:         "les-bases-de-la-bourse",
		Title:        "Les bases de la bourse",
		PassingScore: 80,
		Published:    true,
	}, qs)

	for t, p := range demoPrices {
		l.SetPrice(t, decimal.NewFromInt(p))
	}
}
