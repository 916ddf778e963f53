package numbering_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-dte/internal/application/numbering"
	"github.com/jhoicas/facturador-dte/internal/domain"
	"github.com/jhoicas/facturador-dte/internal/domain/entity"
	pkgdte "github.com/jhoicas/facturador-dte/pkg/dte"
)

// memSequences es un SequenceStore en memoria con la misma garantía que la
// implementación Postgres: Next es atómico por serie.
type memSequences struct {
	mu    sync.Mutex
	last  map[string]int64
	voids []string
}

func newMemSequences() *memSequences {
	return &memSequences{last: make(map[string]int64)}
}

func (m *memSequences) Next(_ context.Context, companyID, docType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := companyID + "/" + docType
	m.last[key]++
	return m.last[key], nil
}

func (m *memSequences) MarkVoid(_ context.Context, companyID, docType string, seq int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voids = append(m.voids, fmt.Sprintf("%s/%s/%d/%s", companyID, docType, seq, reason))
	return nil
}

func testCompany() *entity.Company {
	return &entity.Company{
		ID:                "emp-1",
		NIT:               "06142905231028",
		EstablishmentCode: "M001",
		PointOfSaleCode:   "P001",
	}
}

func TestReserve_FormatoYArranqueEnUno(t *testing.T) {
	alloc := numbering.NewAllocator()
	seqs := newMemSequences()

	n, err := alloc.Reserve(context.Background(), seqs, testCompany(), pkgdte.DocFactura)
	require.NoError(t, err)
	assert.Equal(t, "DTE-01-M001P001-000000000000001", n, "la serie arranca en 1")

	n, err = alloc.Reserve(context.Background(), seqs, testCompany(), pkgdte.DocFactura)
	require.NoError(t, err)
	assert.Equal(t, "DTE-01-M001P001-000000000000002", n)
}

func TestReserve_SeriesIndependientesPorTipo(t *testing.T) {
	alloc := numbering.NewAllocator()
	seqs := newMemSequences()
	ctx := context.Background()

	_, err := alloc.Reserve(ctx, seqs, testCompany(), pkgdte.DocFactura)
	require.NoError(t, err)

	ccf, err := alloc.Reserve(ctx, seqs, testCompany(), pkgdte.DocComprobanteCredito)
	require.NoError(t, err)
	assert.Equal(t, "DTE-03-M001P001-000000000000001", ccf,
		"el CCF lleva su propia serie, no comparte correlativo con la factura")
}

func TestReserve_TipoDesconocido(t *testing.T) {
	alloc := numbering.NewAllocator()
	seqs := newMemSequences()

	_, err := alloc.Reserve(context.Background(), seqs, testCompany(), "99")
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestReserve_ConcurrenciaSinHuecosNiDuplicados(t *testing.T) {
	const goroutines = 64

	alloc := numbering.NewAllocator()
	seqs := newMemSequences()

	results := make(chan string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := alloc.Reserve(context.Background(), seqs, testCompany(), pkgdte.DocFactura)
			assert.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	var got []string
	for n := range results {
		got = append(got, n)
	}
	sort.Strings(got)

	require.Len(t, got, goroutines)
	for i, n := range got {
		want := fmt.Sprintf("DTE-01-M001P001-%015d", i+1)
		assert.Equal(t, want, n, "la serie debe ser contigua y sin duplicados")
	}
}

func TestVoid_RegistraCorrelativoAnulado(t *testing.T) {
	alloc := numbering.NewAllocator()
	seqs := newMemSequences()
	ctx := context.Background()

	n, err := alloc.Reserve(ctx, seqs, testCompany(), pkgdte.DocFactura)
	require.NoError(t, err)

	require.NoError(t, alloc.Void(ctx, seqs, testCompany(), pkgdte.DocFactura, n, "fallo definitivo"))
	require.Len(t, seqs.voids, 1)
	assert.Equal(t, "emp-1/01/1/fallo definitivo", seqs.voids[0])
}

func TestVoid_NumeroDeControlInvalido(t *testing.T) {
	alloc := numbering.NewAllocator()
	seqs := newMemSequences()

	err := alloc.Void(context.Background(), seqs, testCompany(), pkgdte.DocFactura, "DTE-01-corto-1", "x")
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, seqs.voids)
}
