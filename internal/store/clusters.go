package store

import (
	"database/sql"

	"dredge/pkg/errors"
	"dredge/pkg/models"
)

// ReplaceClusters swaps the stored cluster view for the given partition
// in one transaction. The view is derived, so each clustering run
// replaces it wholesale rather than patching it.
func (s *Store) ReplaceClusters(clusters []models.Cluster) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM cluster_members`); err != nil {
			return errors.Wrap(errors.ErrorTypeCheckpoint, "clearing cluster members", err)
		}
		if _, err := tx.Exec(`DELETE FROM clusters`); err != nil {
			return errors.Wrap(errors.ErrorTypeCheckpoint, "clearing clusters", err)
		}

		for _, c := range clusters {
			if _, err := tx.Exec(`
				INSERT INTO clusters (cluster_id, representative_id) VALUES (?, ?)
			`, c.ID, c.RepresentativeID); err != nil {
				return errors.Wrap(errors.ErrorTypeCheckpoint, "inserting cluster", err)
			}
			for _, member := range c.MemberIDs {
				isRep := 0
				if member == c.RepresentativeID {
					isRep = 1
				}
				if _, err := tx.Exec(`
					INSERT INTO cluster_members (cluster_id, member_id, is_representative)
					VALUES (?, ?, ?)
				`, c.ID, member, isRep); err != nil {
					return errors.Wrap(errors.ErrorTypeCheckpoint, "inserting cluster member", err)
				}
			}
		}
		return nil
	})
}

// ListClusters returns the stored cluster view ordered by cluster id,
// members ordered by id.
func (s *Store) ListClusters() ([]models.Cluster, error) {
	rows, err := s.db.Query(`
		SELECT c.cluster_id, c.representative_id, m.member_id
		FROM clusters c
		JOIN cluster_members m ON m.cluster_id = c.cluster_id
		ORDER BY c.cluster_id, m.member_id
	`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "listing clusters", err)
	}
	defer rows.Close()

	var clusters []models.Cluster
	for rows.Next() {
		var clusterID, repID, memberID string
		if err := rows.Scan(&clusterID, &repID, &memberID); err != nil {
			return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "scanning cluster row", err)
		}
		if len(clusters) == 0 || clusters[len(clusters)-1].ID != clusterID {
			clusters = append(clusters, models.Cluster{
				ID:               clusterID,
				RepresentativeID: repID,
			})
		}
		last := &clusters[len(clusters)-1]
		last.MemberIDs = append(last.MemberIDs, memberID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "listing clusters", err)
	}
	return clusters, nil
}

// CountClusters returns the number of stored clusters and how many of
// them have more than one member.
func (s *Store) CountClusters() (total, multi int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COUNT(CASE WHEN members > 1 THEN 1 END)
		FROM (SELECT COUNT(*) AS members FROM cluster_members GROUP BY cluster_id)
	`).Scan(&total, &multi)
	if err != nil {
		return 0, 0, errors.Wrap(errors.ErrorTypeCheckpoint, "counting clusters", err)
	}
	return total, multi, nil
}
