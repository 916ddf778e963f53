// seed_catalogos genera un script SQL para poblar el catálogo CAT-019 de
// actividades económicas a partir del CSV oficial del Ministerio de Hacienda
// (codificado en ISO-8859-1, columnas: código;descripción).
//
// Uso: go run ./cmd/seed_catalogos [ruta/actividades.csv]
// Por defecto busca actividades.csv en el directorio actual.
// Escribe: internal/infrastructure/postgres/migrations/002_seed_activities.sql
package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

func main() {
	csvPath := "actividades.csv"
	if len(os.Args) > 1 {
		csvPath = os.Args[1]
	}
	f, err := os.Open(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Abrir CSV: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	// El catálogo oficial viene en ISO-8859-1 (tildes y eñes fuera de UTF-8).
	r := csv.NewReader(transform.NewReader(f, charmap.ISO8859_1.NewDecoder()))
	r.Comma = ';'
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Leer CSV: %v\n", err)
		os.Exit(1)
	}

	activities := make(map[string]string)
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		code := strings.TrimSpace(row[0])
		name := strings.TrimSpace(row[1])
		if code == "" || name == "" || strings.EqualFold(code, "codigo") {
			continue
		}
		activities[code] = name
	}
	if len(activities) == 0 {
		fmt.Fprintln(os.Stderr, "El CSV no contiene actividades")
		os.Exit(1)
	}

	// Ordenar por código para salida estable
	var codes []string
	for c := range activities {
		codes = append(codes, c)
	}
	sort.Strings(codes)

	moduleRoot := findModuleRoot()
	outPath := filepath.Join(moduleRoot, "internal", "infrastructure", "postgres", "migrations", "002_seed_activities.sql")
	out, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Crear archivo: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	out.WriteString("-- Catálogo CAT-019: actividades económicas (Ministerio de Hacienda)\n")
	out.WriteString("-- Generado desde el CSV oficial por cmd/seed_catalogos\n\n")
	out.WriteString("INSERT INTO economic_activities (code, name) VALUES\n")
	for i, c := range codes {
		sep := ","
		if i == len(codes)-1 {
			sep = ""
		}
		fmt.Fprintf(out, "  ('%s', '%s')%s\n", c, escapeSQL(activities[c]), sep)
	}
	out.WriteString("ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name;\n")

	fmt.Printf("Generado %s: %d actividades\n", outPath, len(codes))
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func findModuleRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
