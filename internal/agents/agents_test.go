package agents_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themis-legal/themis/internal/agents"
	"github.com/themis-legal/themis/internal/engine"
	"github.com/themis-legal/themis/internal/store"
	"github.com/themis-legal/themis/internal/tools"
)

func TestTable(t *testing.T) {
	assert.Equal(t, []string{
		agents.LegalResearch,
		agents.DocumentAnalyzer,
		agents.CaseStrategy,
		agents.ClientCommunicator,
		agents.DeadlineManager,
		agents.PetitionDrafter,
	}, agents.Slugs())
	assert.True(t, agents.Known(agents.Default))
	assert.False(t, agents.Known("tax-advisor"))
}

func TestBuild_AllProfilesRegisterCleanly(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	profiles := agents.Profiles(agents.ToolDeps{Entities: s, Holidays: tools.NationalHolidays{}})
	built, err := agents.Build(profiles, engine.Deps{Agents: s, Executions: s, Entities: s})
	require.NoError(t, err)
	require.Len(t, built, 6)

	assert.Contains(t, built[agents.DeadlineManager].ToolNames(), "calculate_deadline")
	assert.Contains(t, built[agents.DeadlineManager].ToolNames(), "validate_case_number")
	assert.Contains(t, built[agents.DocumentAnalyzer].ToolNames(), "search_case_documents")
	for slug, a := range built {
		assert.Contains(t, a.ToolNames(), "search_clients", slug)
	}
}

func TestSeedStore_Idempotent(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	require.NoError(t, agents.SeedStore(ctx, s, "gpt-4o-mini"))
	first, _ := s.GetAgentBySlug(ctx, agents.LegalResearch)
	require.NoError(t, agents.SeedStore(ctx, s, "gpt-4o"))

	all, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	again, _ := s.GetAgentBySlug(ctx, agents.LegalResearch)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "gpt-4o", again.Model)
	assert.True(t, again.Active)
}
