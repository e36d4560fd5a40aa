package products

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mohacollection/storefront-backend/pkg/db/dbtest"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
)

func newTestService(t *testing.T) (Service, *Repository) {
	t.Helper()
	repo := NewRepository(dbtest.Open(t))
	svc, err := NewService(repo)
	require.NoError(t, err)
	return svc, repo
}

func TestCreateAndGetProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	category, err := svc.CreateCategory(ctx, CreateCategoryInput{Name: "Dresses", Slug: "dresses"})
	require.NoError(t, err)

	created, err := svc.CreateProduct(ctx, CreateProductInput{
		CategoryID:  &category.ID,
		Name:        " Ankara Maxi ",
		Description: "Cotton print",
		Price:       decimal.RequireFromString("2499.5"),
	})
	require.NoError(t, err)
	require.Equal(t, "Ankara Maxi", created.Name)
	require.Equal(t, "2499.50", created.Price)
	require.True(t, created.IsActive)

	got, err := svc.GetProduct(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Category)
	require.Equal(t, "dresses", got.Category.Slug)
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Scarf", Price: decimal.Zero})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	missing := uuid.New()
	_, err = svc.CreateProduct(ctx, CreateProductInput{Name: "Scarf", Price: decimal.NewFromInt(10), CategoryID: &missing})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestInactiveProductHiddenFromStorefront(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	inactive := false
	hidden, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Hidden", Price: decimal.NewFromInt(100), IsActive: &inactive})
	require.NoError(t, err)
	require.False(t, hidden.IsActive)

	_, err = svc.CreateProduct(ctx, CreateProductInput{Name: "Visible", Price: decimal.NewFromInt(200)})
	require.NoError(t, err)

	_, err = svc.GetProduct(ctx, hidden.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = repo.FindActive(ctx, hidden.ID)
	require.Error(t, err)

	page, err := svc.ListProducts(ctx, ListProductsInput{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "Visible", page.Items[0].Name)
}

func TestUpdateProductAppliesOnlyProvidedFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Kitenge Shirt", Description: "Linen", Price: decimal.NewFromInt(1500)})
	require.NoError(t, err)

	price := decimal.RequireFromString("1750")
	updated, err := svc.UpdateProduct(ctx, created.ID, UpdateProductInput{Price: &price})
	require.NoError(t, err)
	require.Equal(t, "1750.00", updated.Price)
	require.Equal(t, "Kitenge Shirt", updated.Name)
	require.Equal(t, "Linen", updated.Description)

	_, err = svc.UpdateProduct(ctx, uuid.New(), UpdateProductInput{Price: &price})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListProductsPaginatesAndFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	shoes, err := svc.CreateCategory(ctx, CreateCategoryInput{Name: "Shoes", Slug: "shoes"})
	require.NoError(t, err)
	for _, name := range []string{"Sandal", "Loafer", "Boot"} {
		_, err := svc.CreateProduct(ctx, CreateProductInput{Name: name, Price: decimal.NewFromInt(900), CategoryID: &shoes.ID})
		require.NoError(t, err)
	}
	_, err = svc.CreateProduct(ctx, CreateProductInput{Name: "Beaded Bag", Price: decimal.NewFromInt(700)})
	require.NoError(t, err)

	page, err := svc.ListProducts(ctx, ListProductsInput{CategorySlug: "shoes", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	search, err := svc.ListProducts(ctx, ListProductsInput{Query: "bag"})
	require.NoError(t, err)
	require.Len(t, search.Items, 1)
	require.Empty(t, search.NextCursor)

	_, err = svc.ListProducts(ctx, ListProductsInput{Cursor: "%%%"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateCategoryRejectsDuplicateSlug(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateCategory(ctx, CreateCategoryInput{Name: "Bags", Slug: "bags"})
	require.NoError(t, err)
	_, err = svc.CreateCategory(ctx, CreateCategoryInput{Name: "Bags Again", Slug: "bags"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = svc.CreateCategory(ctx, CreateCategoryInput{Name: "Bad", Slug: "Bad Slug"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDeactivateProductKeepsRowButHidesIt(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Retired Kaftan", Price: decimal.NewFromInt(1800)})
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateProduct(ctx, created.ID))

	_, err = svc.GetProduct(ctx, created.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	_, err = repo.FindActive(ctx, created.ID)
	require.Error(t, err)

	row, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, row.IsActive)

	// Repeating the delete is harmless.
	require.NoError(t, svc.DeactivateProduct(ctx, created.ID))

	err = svc.DeactivateProduct(ctx, uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
