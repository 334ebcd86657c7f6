package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dandisql/mirror/pkg/models"
	"github.com/dandisql/mirror/pkg/repositories"
)

// VersionInfo carries the listing-derived facts about the document being
// applied; the document itself does not reliably know whether it is the
// latest version of its dandiset.
type VersionInfo struct {
	Version  string
	IsDraft  bool
	IsLatest bool
}

// UpsertService normalizes fetched metadata documents into the local entity
// graph. Each Apply* call is expected to run inside one transaction scope
// (database.WithTx); everything it writes for one document commits or rolls
// back together.
type UpsertService interface {
	ApplyDandisetDocument(ctx context.Context, doc *models.DandisetDocument, info VersionInfo, runID *uuid.UUID) (*models.Dandiset, bool, error)
	ApplyAssetDocument(ctx context.Context, doc *models.AssetDocument, dandisetID int64, path string, runID *uuid.UUID) (*models.Asset, bool, error)
}

type upsertService struct {
	dandisetRepo    repositories.DandisetRepository
	assetRepo       repositories.AssetRepository
	contributorRepo repositories.ContributorRepository
	referenceRepo   repositories.ReferenceRepository
	activityRepo    repositories.ActivityRepository
	participantRepo repositories.ParticipantRepository
	accessRepo      repositories.AccessRepository
	resourceRepo    repositories.ResourceRepository
	summaryRepo     repositories.AssetsSummaryRepository
	logger          *zap.Logger
}

// NewUpsertService creates a new UpsertService.
func NewUpsertService(
	dandisetRepo repositories.DandisetRepository,
	assetRepo repositories.AssetRepository,
	contributorRepo repositories.ContributorRepository,
	referenceRepo repositories.ReferenceRepository,
	activityRepo repositories.ActivityRepository,
	participantRepo repositories.ParticipantRepository,
	accessRepo repositories.AccessRepository,
	resourceRepo repositories.ResourceRepository,
	summaryRepo repositories.AssetsSummaryRepository,
	logger *zap.Logger,
) UpsertService {
	return &upsertService{
		dandisetRepo:    dandisetRepo,
		assetRepo:       assetRepo,
		contributorRepo: contributorRepo,
		referenceRepo:   referenceRepo,
		activityRepo:    activityRepo,
		participantRepo: participantRepo,
		accessRepo:      accessRepo,
		resourceRepo:    resourceRepo,
		summaryRepo:     summaryRepo,
		logger:          logger.Named("upsert"),
	}
}

var _ UpsertService = (*upsertService)(nil)

// ApplyDandisetDocument upserts the dandiset row and every nested entity the
// document carries. Relationship merges are applied in document order but are
// idempotent under re-ordering: every nested entity is resolve-or-create and
// every link insert is a set operation.
func (s *upsertService) ApplyDandisetDocument(ctx context.Context, doc *models.DandisetDocument, info VersionInfo, runID *uuid.UUID) (*models.Dandiset, bool, error) {
	ds := s.dandisetFromDocument(doc, info, runID)

	created, err := s.dandisetRepo.Upsert(ctx, ds)
	if err != nil {
		return nil, false, err
	}

	if err := s.applyContributors(ctx, ds.ID, doc.Contributors); err != nil {
		return nil, false, err
	}
	if err := s.applyAbout(ctx, ds.ID, doc.About); err != nil {
		return nil, false, err
	}
	for i := range doc.Access {
		req, err := s.resolveAccess(ctx, &doc.Access[i])
		if err != nil {
			return nil, false, err
		}
		if err := s.dandisetRepo.LinkAccess(ctx, ds.ID, req.ID); err != nil {
			return nil, false, err
		}
	}
	for i := range doc.RelatedResources {
		res := resourceFromDocument(&doc.RelatedResources[i])
		if res.URL == "" && res.Name == "" {
			continue
		}
		if err := s.resourceRepo.FindOrCreate(ctx, res); err != nil {
			return nil, false, err
		}
		if err := s.dandisetRepo.LinkResource(ctx, ds.ID, res.ID); err != nil {
			return nil, false, err
		}
	}
	if doc.AssetsSummary != nil {
		if err := s.applyAssetsSummary(ctx, ds.ID, doc.AssetsSummary); err != nil {
			return nil, false, err
		}
	}

	activities := doc.WasGeneratedBy
	if doc.PublishedBy != nil {
		activities = append(activities, *doc.PublishedBy)
	}
	for i := range activities {
		activity, err := s.resolveActivity(ctx, &activities[i])
		if err != nil {
			return nil, false, err
		}
		if activity == nil {
			continue
		}
		if err := s.dandisetRepo.LinkActivity(ctx, ds.ID, activity.ID); err != nil {
			return nil, false, err
		}
	}

	return ds, created, nil
}

func (s *upsertService) dandisetFromDocument(doc *models.DandisetDocument, info VersionInfo, runID *uuid.UUID) *models.Dandiset {
	dandiID := doc.ID
	if dandiID == "" {
		dandiID = fmt.Sprintf("%s/%s", doc.Identifier, info.Version)
	}
	baseID := doc.Identifier
	if baseID == "" {
		baseID = models.BaseIDFromDandiID(dandiID)
	}

	ds := &models.Dandiset{
		DandiID:            dandiID,
		Identifier:         doc.Identifier,
		BaseID:             baseID,
		IsDraft:            info.IsDraft,
		IsLatest:           info.IsLatest,
		SchemaVersion:      doc.SchemaVersion,
		Name:               doc.Name,
		Description:        doc.Description,
		License:            doc.LicenseList(),
		Keywords:           doc.KeywordList(),
		StudyTarget:        doc.StudyTargetList(),
		Protocol:           doc.ProtocolList(),
		ManifestLocation:   doc.ManifestLocationList(),
		Citation:           doc.Citation,
		Acknowledgement:    doc.Acknowledgement,
		URL:                doc.URL,
		Repository:         doc.Repository,
		DOI:                doc.DOI,
		LastModifiedBySync: runID,
	}
	if !info.IsDraft {
		version := info.Version
		ds.Version = &version
	}

	ds.DateCreated = s.parseDocTime(doc.DateCreated, dandiID, "dateCreated")
	ds.DateModified = s.parseDocTime(doc.DateModified, dandiID, "dateModified")
	ds.DatePublished = s.parseDocTime(doc.DatePublished, dandiID, "datePublished")
	return ds
}

func (s *upsertService) applyContributors(ctx context.Context, dandisetID int64, docs []models.ContributorDocument) error {
	for i := range docs {
		contrib := &docs[i]
		if contrib.Name == "" && contrib.Identifier == "" {
			continue
		}
		c, err := ResolveContributor(ctx, s.contributorRepo, contrib)
		if err != nil {
			return err
		}
		for j := range contrib.Affiliations {
			aff := &contrib.Affiliations[j]
			if aff.Name == "" && aff.Identifier == "" {
				continue
			}
			row, err := s.contributorRepo.FindOrCreateAffiliation(ctx,
				NormalizeContributorIdentifier(aff.Identifier), aff.Name)
			if err != nil {
				return err
			}
			if err := s.contributorRepo.LinkAffiliation(ctx, c.ID, row.ID); err != nil {
				return err
			}
		}
		if err := s.contributorRepo.MergeDandisetLink(ctx, dandisetID, c.ID, contrib.Roles(), contrib.IncludeInCitation); err != nil {
			return err
		}
	}
	return nil
}

// applyAbout mirrors anatomical subject-matter terms; other about kinds are
// not modeled and are skipped.
func (s *upsertService) applyAbout(ctx context.Context, dandisetID int64, about []models.AboutDocument) error {
	var termIDs []int64
	for i := range about {
		entry := &about[i]
		if entry.SchemaKey != "Anatomy" || entry.Name == "" {
			continue
		}
		term, err := s.referenceRepo.FindOrCreate(ctx, models.TermAnatomy,
			NormalizeOntologyIdentifier(entry.Identifier), entry.Name)
		if err != nil {
			return err
		}
		termIDs = append(termIDs, term.ID)
	}
	return s.dandisetRepo.ReplaceAbout(ctx, dandisetID, termIDs)
}

func (s *upsertService) resolveAccess(ctx context.Context, doc *models.AccessDocument) (*models.AccessRequirement, error) {
	req := &models.AccessRequirement{
		Status:    doc.Status,
		SchemaKey: doc.SchemaKey,
	}
	if req.SchemaKey == "" {
		req.SchemaKey = "AccessRequirements"
	}
	if doc.ContactPoint != nil && (doc.ContactPoint.Email != "" || doc.ContactPoint.URL != "") {
		cp, err := s.accessRepo.FindOrCreateContactPoint(ctx, doc.ContactPoint.Email, doc.ContactPoint.URL)
		if err != nil {
			return nil, err
		}
		req.ContactPointID = &cp.ID
	}
	req.EmbargoedUntil = s.parseDocTime(doc.EmbargoedUntil, doc.Status, "embargoedUntil")

	if err := s.accessRepo.FindOrCreate(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func resourceFromDocument(doc *models.ResourceDocument) *models.Resource {
	return &models.Resource{
		Identifier:   doc.Identifier,
		Name:         doc.Name,
		URL:          doc.URL,
		Repository:   doc.Repository,
		Relation:     doc.Relation,
		ResourceType: doc.ResourceType,
	}
}

func (s *upsertService) applyAssetsSummary(ctx context.Context, dandisetID int64, doc *models.AssetsSummaryDoc) error {
	summary := &models.AssetsSummary{
		DandisetID:       dandisetID,
		NumberOfBytes:    doc.Bytes(),
		NumberOfFiles:    doc.Files(),
		NumberOfSubjects: doc.Subjects(),
		NumberOfSamples:  doc.Samples(),
		NumberOfCells:    doc.Cells(),
		VariableMeasured: doc.VariableMeasuredList(),
	}

	var termIDs []int64
	for kind, docs := range map[string][]models.TypeDocument{
		models.TermSpecies:              doc.Species,
		models.TermApproach:             doc.Approach,
		models.TermMeasurementTechnique: doc.MeasurementTechnique,
		models.TermDataStandard:         doc.DataStandard,
	} {
		ids, err := s.resolveTerms(ctx, kind, docs)
		if err != nil {
			return err
		}
		termIDs = append(termIDs, ids...)
	}

	return s.summaryRepo.Replace(ctx, summary, termIDs)
}

func (s *upsertService) resolveTerms(ctx context.Context, kind string, docs []models.TypeDocument) ([]int64, error) {
	var ids []int64
	for i := range docs {
		d := &docs[i]
		if d.Name == "" && d.Identifier == "" {
			continue
		}
		term, err := s.referenceRepo.FindOrCreate(ctx, kind,
			NormalizeOntologyIdentifier(d.Identifier), d.Name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, term.ID)
	}
	return ids, nil
}

func (s *upsertService) resolveActivity(ctx context.Context, doc *models.ActivityDocument) (*models.Activity, error) {
	if doc.Name == "" {
		return nil, nil
	}
	activity := &models.Activity{
		Identifier:  doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		SchemaKey:   doc.SchemaKey,
	}
	if activity.SchemaKey == "" {
		activity.SchemaKey = models.SchemaKeyActivity
	}
	activity.StartDate = s.parseDocTime(doc.StartDate, doc.Name, "startDate")
	activity.EndDate = s.parseDocTime(doc.EndDate, doc.Name, "endDate")

	if err := s.activityRepo.FindOrCreate(ctx, activity); err != nil {
		return nil, err
	}

	for i := range doc.WasAssociatedWith {
		sw := &doc.WasAssociatedWith[i]
		if sw.Name == "" {
			continue
		}
		software := &models.Software{
			Identifier: sw.Identifier,
			Name:       sw.Name,
			Version:    sw.Version,
			URL:        sw.URL,
		}
		if err := s.activityRepo.FindOrCreateSoftware(ctx, software); err != nil {
			return nil, err
		}
		if err := s.activityRepo.LinkSoftware(ctx, activity.ID, software.ID); err != nil {
			return nil, err
		}
	}
	return activity, nil
}

// ApplyAssetDocument upserts the asset row, its association to the owning
// dandiset (path comes from this document) and its nested relationships.
func (s *upsertService) ApplyAssetDocument(ctx context.Context, doc *models.AssetDocument, dandisetID int64, path string, runID *uuid.UUID) (*models.Asset, bool, error) {
	assetID := doc.AssetID()
	if assetID == "" {
		return nil, false, fmt.Errorf("asset document has no identifier")
	}
	if path == "" {
		path = doc.Path
	}

	asset := &models.Asset{
		DandiAssetID:       assetID,
		Identifier:         doc.Identifier,
		SchemaVersion:      doc.SchemaVersion,
		ContentSize:        doc.Size(),
		EncodingFormat:     doc.EncodingFormat,
		Digest:             doc.Digest,
		ContentURL:         doc.ContentURLList(),
		VariableMeasured:   doc.VariableMeasuredList(),
		LastModifiedBySync: runID,
	}
	asset.DateModified = s.parseDocTime(doc.DateModified, assetID, "dateModified")
	asset.DatePublished = s.parseDocTime(doc.DatePublished, assetID, "datePublished")
	asset.BlobDateModified = s.parseDocTime(doc.BlobDateModified, assetID, "blobDateModified")

	created, err := s.assetRepo.Upsert(ctx, asset)
	if err != nil {
		return nil, false, err
	}
	if err := s.assetRepo.Associate(ctx, asset.ID, dandisetID, path); err != nil {
		return nil, false, err
	}

	for i := range doc.Access {
		req, err := s.resolveAccess(ctx, &doc.Access[i])
		if err != nil {
			return nil, false, err
		}
		if err := s.assetRepo.LinkAccess(ctx, asset.ID, req.ID); err != nil {
			return nil, false, err
		}
	}
	for kind, docs := range map[string][]models.TypeDocument{
		models.TermApproach:             doc.Approach,
		models.TermMeasurementTechnique: doc.MeasurementTechnique,
	} {
		ids, err := s.resolveTerms(ctx, kind, docs)
		if err != nil {
			return nil, false, err
		}
		for _, id := range ids {
			if err := s.assetRepo.LinkTerm(ctx, asset.ID, id); err != nil {
				return nil, false, err
			}
		}
	}
	for i := range doc.WasAttributedTo {
		participant, err := s.resolveParticipant(ctx, &doc.WasAttributedTo[i])
		if err != nil {
			return nil, false, err
		}
		if participant == nil {
			continue
		}
		if err := s.assetRepo.LinkParticipant(ctx, asset.ID, participant.ID); err != nil {
			return nil, false, err
		}
	}

	activities := doc.WasGeneratedBy
	if doc.PublishedBy != nil {
		activities = append(activities, *doc.PublishedBy)
	}
	for i := range activities {
		activity, err := s.resolveActivity(ctx, &activities[i])
		if err != nil {
			return nil, false, err
		}
		if activity == nil {
			continue
		}
		if err := s.assetRepo.LinkActivity(ctx, asset.ID, activity.ID); err != nil {
			return nil, false, err
		}
	}

	return asset, created, nil
}

func (s *upsertService) resolveParticipant(ctx context.Context, doc *models.ParticipantDocument) (*models.Participant, error) {
	if doc.Identifier == "" {
		return nil, nil
	}
	p := &models.Participant{
		Identifier: doc.Identifier,
		SchemaKey:  doc.SchemaKey,
		Age:        doc.AgeMap(),
	}
	if p.SchemaKey == "" {
		p.SchemaKey = "Participant"
	}
	if doc.Species != nil && (doc.Species.Name != "" || doc.Species.Identifier != "") {
		term, err := s.referenceRepo.FindOrCreate(ctx, models.TermSpecies,
			NormalizeOntologyIdentifier(doc.Species.Identifier), doc.Species.Name)
		if err != nil {
			return nil, err
		}
		p.SpeciesID = &term.ID
	}
	if doc.Sex != nil && (doc.Sex.Name != "" || doc.Sex.Identifier != "") {
		term, err := s.referenceRepo.FindOrCreate(ctx, models.TermSex,
			NormalizeOntologyIdentifier(doc.Sex.Identifier), doc.Sex.Name)
		if err != nil {
			return nil, err
		}
		p.SexID = &term.ID
	}
	if err := s.participantRepo.FindOrCreate(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// parseDocTime parses an optional document timestamp; malformed values are
// logged and treated as absent rather than failing the entity.
func (s *upsertService) parseDocTime(value, entity, field string) *time.Time {
	t, err := models.ParseTime(value)
	if err != nil {
		s.logger.Warn("malformed document timestamp",
			zap.String("entity", entity),
			zap.String("field", field),
			zap.Error(err))
		return nil
	}
	return t
}
