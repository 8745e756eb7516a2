// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package registry

import "time"

// Dataset IDs used across the pipeline.
const (
	DatasetRegionBudgets   = "region_budgets"
	DatasetCommunes        = "communes"
	DatasetChomageRegional = "chomage_regional"
)

// RegionBudgets is the "comptes individuels des regions" extract from
// the Ministere de l'Economie: revenue, expenditure and debt per region
// and year. The raw CSV uses French accounting abbreviations.
var RegionBudgets = DatasetSpec{
	ID:          DatasetRegionBudgets,
	Name:        "Comptes individuels des regions",
	Description: "Budget regional : recettes, depenses, dette par region et par annee.",
	Slug:        "comptes-individuels-des-regions-fichier-global-a-compter-de-2008",
	Separator:   ';',
	Columns: []ColumnSpec{
		{Name: "year", Aliases: []string{"exer", "annee"}, Type: TypeInteger, Required: true, Missing: MissingReject},
		{Name: "region_code", Aliases: []string{"reg", "code_region"}, Type: TypeText, Required: true, Missing: MissingReject},
		{Name: "region_name", Aliases: []string{"lbudg", "nom_region"}, Type: TypeText, Missing: MissingNull},
		{Name: "operating_revenue", Aliases: []string{"rec_totales_f", "recettes_de_fonctionnement"}, Type: TypeDecimal, Missing: MissingZero},
		{Name: "operating_expenditure", Aliases: []string{"dep_totales_f", "depenses_de_fonctionnement"}, Type: TypeDecimal, Missing: MissingZero},
		{Name: "investment_revenue", Aliases: []string{"rec_totales_i", "recettes_d_investissement"}, Type: TypeDecimal, Missing: MissingZero},
		{Name: "investment_expenditure", Aliases: []string{"dep_totales_i", "depenses_d_investissement"}, Type: TypeDecimal, Missing: MissingZero},
		{Name: "debt", Aliases: []string{"encours_de_dette", "dette"}, Type: TypeDecimal, Missing: MissingNull},
	},
	TargetTable: "region_budgets",
	KeyColumns:  []string{"year", "region_code"},
	Dedup:       DedupKeepLast,
	CadenceHint: 365 * 24 * time.Hour,
}

// Communes is the commune demographics extract: population, area and
// density per commune, with the region each commune belongs to. The
// region columns drive the commune-to-region aggregation; a commune
// without one is excluded from regional totals, never reassigned.
var Communes = DatasetSpec{
	ID:          DatasetCommunes,
	Name:        "Communes et villes de France",
	Description: "Demographie communale : population, superficie, densite.",
	Slug:        "communes-et-villes-de-france-en-csv-excel-json-parquet-et-feather",
	Separator:   ',',
	Columns: []ColumnSpec{
		{Name: "code_insee", Aliases: []string{"code_commune_insee", "insee"}, Type: TypeText, Required: true, Missing: MissingReject},
		{Name: "name", Aliases: []string{"nom_standard", "nom_commune", "nom"}, Type: TypeText, Missing: MissingNull},
		{Name: "region_code", Aliases: []string{"reg_code", "code_region"}, Type: TypeText, Missing: MissingNull},
		{Name: "region_name", Aliases: []string{"reg_nom", "nom_region"}, Type: TypeText, Missing: MissingNull},
		{Name: "department_code", Aliases: []string{"dep_code", "code_departement"}, Type: TypeText, Missing: MissingNull},
		{Name: "department_name", Aliases: []string{"dep_nom", "nom_departement"}, Type: TypeText, Missing: MissingNull},
		{Name: "population", Aliases: []string{"pop", "population_municipale"}, Type: TypeInteger, Required: true, Missing: MissingReject},
		{Name: "area_km2", Aliases: []string{"superficie_km2", "superficie"}, Type: TypeDecimal, Missing: MissingNull},
		{Name: "density", Aliases: []string{"densite"}, Type: TypeDecimal, Missing: MissingNull},
	},
	TargetTable: "communes",
	KeyColumns:  []string{"code_insee"},
	Dedup:       DedupKeepLast,
	CadenceHint: 365 * 24 * time.Hour,
}

// ChomageRegional is the Urssaf monthly salary mass and partial
// unemployment extract per region.
var ChomageRegional = DatasetSpec{
	ID:          DatasetChomageRegional,
	Name:        "Masse salariale et chomage partiel par region",
	Description: "Masse salariale brute et assiette chomage partiel mensuelles par region.",
	Slug:        "masse-salariale-et-assiette-chomage-partiel-mensuelles-du-secteur-prive-par-region",
	Separator:   ';',
	Columns: []ColumnSpec{
		{Name: "region_code", Aliases: []string{"reg", "code_region"}, Type: TypeText, Required: true, Missing: MissingReject},
		{Name: "region_name", Aliases: []string{"libelle_region", "nom_region"}, Type: TypeText, Missing: MissingNull},
		{Name: "month", Aliases: []string{"dernier_jour_du_mois", "mois"}, Type: TypeMonth, Required: true, Missing: MissingReject},
		{Name: "salary_mass", Aliases: []string{"masse_salariale_brute", "masse_sal"}, Type: TypeDecimal, Missing: MissingNull},
		{Name: "partial_unemployment_base", Aliases: []string{"assiette_chomage_partiel", "assiette_chom_part"}, Type: TypeDecimal, Missing: MissingNull},
	},
	TargetTable: "region_employment",
	KeyColumns:  []string{"region_code", "month"},
	Dedup:       DedupKeepLast,
	CadenceHint: 31 * 24 * time.Hour,
}
