package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crosswire-ai/crosswire/internal/model"
)

// MemoryStore is an in-process Store for tests and local runs. All
// returned records are copies; callers never share memory with the
// store.
type MemoryStore struct {
	mu sync.RWMutex

	sources map[string]*model.ContentSource
	items   map[string]*model.ContentItem
	// itemsByExternal maps sourceID+"\x00"+externalID to item id.
	itemsByExternal map[string]string
	chunks          map[string][]*model.ContentChunk
	cursors         map[string]*model.SyncCursor
	relationships   map[string]*model.ContentRelationship
	participants    map[string]*model.ContentParticipant
	clusters        map[string]*model.TopicCluster
	clusterMembers  map[string][]*model.TopicClusterMember
	expertise       map[string]*model.TopicExpertise
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources:         make(map[string]*model.ContentSource),
		items:           make(map[string]*model.ContentItem),
		itemsByExternal: make(map[string]string),
		chunks:          make(map[string][]*model.ContentChunk),
		cursors:         make(map[string]*model.SyncCursor),
		relationships:   make(map[string]*model.ContentRelationship),
		participants:    make(map[string]*model.ContentParticipant),
		clusters:        make(map[string]*model.TopicCluster),
		clusterMembers:  make(map[string][]*model.TopicClusterMember),
		expertise:       make(map[string]*model.TopicExpertise),
	}
}

var _ Store = (*MemoryStore)(nil)

func externalKey(sourceID, externalID string) string {
	return sourceID + "\x00" + externalID
}

func cursorKey(sourceID, subresourceKey string) string {
	return sourceID + "\x00" + subresourceKey
}

func copySource(s *model.ContentSource) *model.ContentSource {
	cp := *s
	return &cp
}

func copyItem(it *model.ContentItem) *model.ContentItem {
	cp := *it
	cp.Tags = append([]string(nil), it.Tags...)
	cp.KeyPoints = append([]string(nil), it.KeyPoints...)
	cp.Embedding = append([]float32(nil), it.Embedding...)
	return &cp
}

// CreateSource stores a new source, assigning an id when absent.
func (m *MemoryStore) CreateSource(_ context.Context, src *model.ContentSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now
	if src.SyncStatus == "" {
		src.SyncStatus = model.SyncIdle
	}
	m.sources[src.ID] = copySource(src)
	return nil
}

func (m *MemoryStore) GetSource(_ context.Context, id string) (*model.ContentSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src, ok := m.sources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySource(src), nil
}

func (m *MemoryStore) ListSources(_ context.Context, orgID string) ([]*model.ContentSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.ContentSource
	for _, src := range m.sources {
		if src.OrganizationID == orgID {
			out = append(out, copySource(src))
		}
	}
	sortSources(out)
	return out, nil
}

func (m *MemoryStore) ListActiveSources(_ context.Context) ([]*model.ContentSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.ContentSource
	for _, src := range m.sources {
		if src.Active() {
			out = append(out, copySource(src))
		}
	}
	sortSources(out)
	return out, nil
}

func sortSources(srcs []*model.ContentSource) {
	sort.Slice(srcs, func(i, j int) bool {
		if !srcs[i].CreatedAt.Equal(srcs[j].CreatedAt) {
			return srcs[i].CreatedAt.Before(srcs[j].CreatedAt)
		}
		return srcs[i].ID < srcs[j].ID
	})
}

func (m *MemoryStore) UpdateSourceStatus(_ context.Context, id string, status model.SyncStatus, errMsg string, lastSyncAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[id]
	if !ok {
		return ErrNotFound
	}
	src.SyncStatus = status
	src.ErrorMessage = errMsg
	if lastSyncAt != nil {
		t := *lastSyncAt
		src.LastSyncAt = &t
	}
	src.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpdateSourceCredentials(_ context.Context, id string, encrypted string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[id]
	if !ok {
		return ErrNotFound
	}
	src.EncryptedCredentials = encrypted
	src.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) DeleteSource(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sources[id]; !ok {
		return ErrNotFound
	}
	delete(m.sources, id)
	return nil
}

// UpsertContentItem deduplicates on (SourceID, ExternalID). Updates keep
// the existing id and AI fields; changed source content resets the item
// to pending.
func (m *MemoryStore) UpsertContentItem(_ context.Context, item *model.ContentItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := externalKey(item.SourceID, item.ExternalID)

	if existingID, ok := m.itemsByExternal[key]; ok {
		existing := m.items[existingID]
		contentChanged := existing.Content != item.Content || existing.Title != item.Title

		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
		item.UpdatedAt = now

		item.Summary = existing.Summary
		item.KeyPoints = append([]string(nil), existing.KeyPoints...)
		item.Sentiment = existing.Sentiment
		item.Embedding = append([]float32(nil), existing.Embedding...)
		if contentChanged {
			item.ProcessingStatus = model.ProcessingPending
		} else {
			item.ProcessingStatus = existing.ProcessingStatus
		}

		m.items[existing.ID] = copyItem(item)
		return false, nil
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ProcessingStatus == "" {
		item.ProcessingStatus = model.ProcessingPending
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	m.items[item.ID] = copyItem(item)
	m.itemsByExternal[key] = item.ID
	return true, nil
}

func (m *MemoryStore) GetItem(_ context.Context, id string) (*model.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyItem(it), nil
}

func (m *MemoryStore) GetItemByExternalID(_ context.Context, sourceID, externalID string) (*model.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.itemsByExternal[externalKey(sourceID, externalID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyItem(m.items[id]), nil
}

func (m *MemoryStore) GetItemWithRelations(ctx context.Context, id string) (*ItemWithRelations, error) {
	item, err := m.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	chunks, err := m.ListChunks(ctx, id)
	if err != nil {
		return nil, err
	}
	parts, err := m.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	rels, err := m.ListRelationships(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ItemWithRelations{Item: item, Chunks: chunks, Participants: parts, Relationships: rels}, nil
}

func (m *MemoryStore) ListItemsBySource(_ context.Context, sourceID string, limit int) ([]*model.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.ContentItem
	for _, it := range m.items {
		if it.SourceID == sourceID {
			out = append(out, copyItem(it))
		}
	}
	sortItems(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListPendingItems(_ context.Context, limit int) ([]*model.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.ContentItem
	for _, it := range m.items {
		if it.ProcessingStatus == model.ProcessingPending {
			out = append(out, copyItem(it))
		}
	}
	sortItems(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListEmbeddedItems(_ context.Context, orgID string) ([]*model.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.ContentItem
	for _, it := range m.items {
		if it.OrganizationID == orgID && len(it.Embedding) > 0 {
			out = append(out, copyItem(it))
		}
	}
	sortItems(out)
	return out, nil
}

func sortItems(items []*model.ContentItem) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func (m *MemoryStore) SetProcessingStatus(_ context.Context, itemID string, status model.ProcessingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[itemID]
	if !ok {
		return ErrNotFound
	}
	it.ProcessingStatus = status
	it.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SaveEnrichment(_ context.Context, itemID string, res EnrichmentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[itemID]
	if !ok {
		return ErrNotFound
	}
	it.Summary = res.Summary
	it.KeyPoints = append([]string(nil), res.KeyPoints...)
	it.Sentiment = res.Sentiment
	it.Embedding = append([]float32(nil), res.Embedding...)
	it.ProcessingStatus = model.ProcessingCompleted
	it.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) DeleteItemsBySource(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, it := range m.items {
		if it.SourceID != sourceID {
			continue
		}
		delete(m.items, id)
		delete(m.itemsByExternal, externalKey(it.SourceID, it.ExternalID))
		delete(m.chunks, id)
	}
	return nil
}

func (m *MemoryStore) ReplaceChunks(_ context.Context, itemID string, chunks []*model.ContentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cp := make([]*model.ContentChunk, 0, len(chunks))
	for _, c := range chunks {
		cc := *c
		if cc.ID == "" {
			cc.ID = uuid.NewString()
		}
		cc.ContentItemID = itemID
		cc.CreatedAt = now
		cc.Embedding = append([]float32(nil), c.Embedding...)
		cp = append(cp, &cc)
	}
	sort.Slice(cp, func(i, j int) bool { return cp[i].ChunkIndex < cp[j].ChunkIndex })
	m.chunks[itemID] = cp
	return nil
}

func (m *MemoryStore) ListChunks(_ context.Context, itemID string) ([]*model.ContentChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.ContentChunk, 0, len(m.chunks[itemID]))
	for _, c := range m.chunks[itemID] {
		cc := *c
		out = append(out, &cc)
	}
	return out, nil
}

func (m *MemoryStore) GetCursor(_ context.Context, sourceID, subresourceKey string) (*model.SyncCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cur, ok := m.cursors[cursorKey(sourceID, subresourceKey)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cur
	return &cp, nil
}

func (m *MemoryStore) UpsertCursor(_ context.Context, sourceID, subresourceKey string, upd model.CursorUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := cursorKey(sourceID, subresourceKey)
	cur, ok := m.cursors[key]
	if !ok {
		cur = &model.SyncCursor{
			SourceID:       sourceID,
			SubresourceKey: subresourceKey,
			CreatedAt:      now,
		}
		m.cursors[key] = cur
	}
	if upd.Cursor != nil {
		cur.Cursor = *upd.Cursor
	}
	if upd.LastSyncedAt != nil {
		t := *upd.LastSyncedAt
		cur.LastSyncedAt = &t
	}
	cur.ItemsSynced += upd.ItemsDelta
	if upd.LastError != nil {
		cur.LastError = *upd.LastError
	}
	if upd.Meta != nil {
		if cur.Meta == nil {
			cur.Meta = make(map[string]string)
		}
		for k, v := range upd.Meta {
			cur.Meta[k] = v
		}
	}
	cur.UpdatedAt = now
	return nil
}

func (m *MemoryStore) ListCursors(_ context.Context, sourceID string) ([]*model.SyncCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.SyncCursor
	for key, cur := range m.cursors {
		if strings.HasPrefix(key, sourceID+"\x00") {
			cp := *cur
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubresourceKey < out[j].SubresourceKey })
	return out, nil
}

func (m *MemoryStore) DeleteCursors(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.cursors {
		if strings.HasPrefix(key, sourceID+"\x00") {
			delete(m.cursors, key)
		}
	}
	return nil
}

func relationshipKey(rel *model.ContentRelationship) string {
	return rel.SourceItemID + "\x00" + rel.TargetItemID + "\x00" + string(rel.Type)
}

func (m *MemoryStore) UpsertRelationship(_ context.Context, rel *model.ContentRelationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := relationshipKey(rel)
	if existing, ok := m.relationships[key]; ok {
		existing.Confidence = rel.Confidence
		existing.UpdatedAt = now
		rel.ID = existing.ID
		return nil
	}
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	rel.CreatedAt = now
	rel.UpdatedAt = now
	cp := *rel
	m.relationships[key] = &cp
	return nil
}

func (m *MemoryStore) ListRelationships(_ context.Context, itemID string) ([]*model.ContentRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.ContentRelationship
	for _, rel := range m.relationships {
		if rel.SourceItemID == itemID || rel.TargetItemID == itemID {
			cp := *rel
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceItemID != out[j].SourceItemID {
			return out[i].SourceItemID < out[j].SourceItemID
		}
		if out[i].TargetItemID != out[j].TargetItemID {
			return out[i].TargetItemID < out[j].TargetItemID
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func participantKey(p *model.ContentParticipant) string {
	identity := p.UserID
	if identity == "" {
		identity = p.ExternalID
	}
	return p.ContentItemID + "\x00" + string(p.Role) + "\x00" + identity
}

func (m *MemoryStore) UpsertParticipant(_ context.Context, p *model.ContentParticipant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := participantKey(p)
	if existing, ok := m.participants[key]; ok {
		existing.Name = p.Name
		existing.Email = p.Email
		p.ID = existing.ID
		return nil
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	cp := *p
	m.participants[key] = &cp
	return nil
}

func (m *MemoryStore) ReplaceParticipants(ctx context.Context, itemID string, parts []*model.ContentParticipant) error {
	m.mu.Lock()
	for key, p := range m.participants {
		if p.ContentItemID == itemID {
			delete(m.participants, key)
		}
	}
	m.mu.Unlock()

	for _, p := range parts {
		p.ContentItemID = itemID
		if err := m.UpsertParticipant(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) ListParticipants(_ context.Context, itemID string) ([]*model.ContentParticipant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.ContentParticipant
	for _, p := range m.participants {
		if p.ContentItemID == itemID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out, nil
}

func (m *MemoryStore) ReplaceClusters(_ context.Context, orgID string, clusters []*model.TopicCluster, members []*model.TopicClusterMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for id, c := range m.clusters {
		if c.OrganizationID == orgID {
			delete(m.clusters, id)
			delete(m.clusterMembers, id)
		}
	}
	for _, c := range clusters {
		cp := *c
		cp.OrganizationID = orgID
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		cp.Centroid = append([]float32(nil), c.Centroid...)
		m.clusters[cp.ID] = &cp
	}
	for _, mem := range members {
		cp := *mem
		cp.CreatedAt = now
		m.clusterMembers[cp.ClusterID] = append(m.clusterMembers[cp.ClusterID], &cp)
	}
	return nil
}

func (m *MemoryStore) ListClusters(_ context.Context, orgID string) ([]*model.TopicCluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.TopicCluster
	for _, c := range m.clusters {
		if c.OrganizationID == orgID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListClusterMembers(_ context.Context, clusterID string) ([]*model.TopicClusterMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.TopicClusterMember
	for _, mem := range m.clusterMembers[clusterID] {
		cp := *mem
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentItemID < out[j].ContentItemID })
	return out, nil
}

func expertiseKey(e *model.TopicExpertise) string {
	return e.ClusterID + "\x00" + e.PersonKey
}

func (m *MemoryStore) UpsertExpertise(_ context.Context, e *model.TopicExpertise) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := expertiseKey(e)
	if existing, ok := m.expertise[key]; ok {
		existing.ContributionCount = e.ContributionCount
		if e.LastContributionAt.After(existing.LastContributionAt) {
			existing.LastContributionAt = e.LastContributionAt
		}
		return nil
	}
	cp := *e
	m.expertise[key] = &cp
	return nil
}

func (m *MemoryStore) ListExpertise(_ context.Context, clusterID string) ([]*model.TopicExpertise, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.TopicExpertise
	for _, e := range m.expertise {
		if e.ClusterID == clusterID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContributionCount != out[j].ContributionCount {
			return out[i].ContributionCount > out[j].ContributionCount
		}
		return out[i].PersonKey < out[j].PersonKey
	})
	return out, nil
}
