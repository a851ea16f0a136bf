package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUploadTemplateStoresFile(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	service, err := NewTemplateService(db, dir)
	require.NoError(t, err)

	template, err := service.Upload(context.Background(), UploadTemplateInput{
		Name:        "Standard",
		Description: "Default layout",
		FileName:    "standard.xlsx",
		Content:     strings.NewReader("workbook bytes"),
		IsDefault:   true,
	})
	require.NoError(t, err)
	require.True(t, template.IsDefault)
	require.Equal(t, "standard.xlsx", template.FileName)

	content, err := os.ReadFile(template.FilePath)
	require.NoError(t, err)
	require.Equal(t, "workbook bytes", string(content))
	require.Equal(t, dir, filepath.Dir(template.FilePath))
}

func TestUploadTemplateRejectsDuplicateName(t *testing.T) {
	db := openTestDB(t)

	service, err := NewTemplateService(db, t.TempDir())
	require.NoError(t, err)

	_, err = service.Upload(context.Background(), UploadTemplateInput{
		Name:    "Standard",
		Content: strings.NewReader("a"),
	})
	require.NoError(t, err)

	_, err = service.Upload(context.Background(), UploadTemplateInput{
		Name:    "Standard",
		Content: strings.NewReader("b"),
	})
	require.ErrorIs(t, err, ErrTemplateNameTaken)
}

func TestUploadTemplateUnsetsPriorDefault(t *testing.T) {
	db := openTestDB(t)

	service, err := NewTemplateService(db, t.TempDir())
	require.NoError(t, err)

	first, err := service.Upload(context.Background(), UploadTemplateInput{
		Name:      "First",
		Content:   strings.NewReader("a"),
		IsDefault: true,
	})
	require.NoError(t, err)

	second, err := service.Upload(context.Background(), UploadTemplateInput{
		Name:      "Second",
		Content:   strings.NewReader("b"),
		IsDefault: true,
	})
	require.NoError(t, err)
	require.True(t, second.IsDefault)

	reloaded, err := service.GetByID(context.Background(), first.ID)
	require.NoError(t, err)
	require.False(t, reloaded.IsDefault)

	list, err := service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "Second", list[0].Name) // default sorts first
}

func TestDeleteTemplate(t *testing.T) {
	db := openTestDB(t)

	service, err := NewTemplateService(db, t.TempDir())
	require.NoError(t, err)

	defaultTemplate, err := service.Upload(context.Background(), UploadTemplateInput{
		Name:      "Default",
		Content:   strings.NewReader("a"),
		IsDefault: true,
	})
	require.NoError(t, err)

	extra, err := service.Upload(context.Background(), UploadTemplateInput{
		Name:    "Extra",
		Content: strings.NewReader("b"),
	})
	require.NoError(t, err)

	require.ErrorIs(t, service.Delete(context.Background(), defaultTemplate.ID), ErrTemplateDefault)

	require.NoError(t, service.Delete(context.Background(), extra.ID))
	_, err = service.GetByID(context.Background(), extra.ID)
	require.ErrorIs(t, err, ErrTemplateNotFound)
	_, err = os.Stat(extra.FilePath)
	require.True(t, os.IsNotExist(err))

	require.ErrorIs(t, service.Delete(context.Background(), "missing"), ErrTemplateNotFound)
}
