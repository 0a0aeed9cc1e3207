package ranking_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/okian/ratingmeter/internal/domain/model"
	"github.com/okian/ratingmeter/internal/domain/ranking"
	"github.com/okian/ratingmeter/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func player(id, name string, points int) model.Standing {
	return model.Standing{UserID: id, Username: name, Role: model.RolePlayer, Points: points}
}

func TestRank(t *testing.T) {
	Convey("Given A:20, B:20, C:15 and a playmaker with 99", t, func() {
		standings := []model.Standing{
			player("c", "carol", 15),
			{UserID: "pm", Username: "boss", Role: model.RolePlaymaker, Points: 99},
			player("b", "bob", 20),
			player("a", "alice", 20),
		}

		Convey("When ranking", func() {
			entries := ranking.Rank(standings, 10)

			Convey("Then ties share a rank and the next total skips ahead", func() {
				So(len(entries), ShouldEqual, 3)
				So(entries[0].Username, ShouldEqual, "alice")
				So(entries[0].Rank, ShouldEqual, 1)
				So(entries[1].Username, ShouldEqual, "bob")
				So(entries[1].Rank, ShouldEqual, 1)
				So(entries[2].Username, ShouldEqual, "carol")
				So(entries[2].Rank, ShouldEqual, 3)
			})
		})

		Convey("When asking for individual ranks", func() {
			ra, errA := ranking.RankOf("a", standings)
			rb, errB := ranking.RankOf("b", standings)
			rc, errC := ranking.RankOf("c", standings)

			Convey("Then they match the leaderboard", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(errC, ShouldBeNil)
				So(ra, ShouldEqual, 1)
				So(rb, ShouldEqual, 1)
				So(rc, ShouldEqual, 3)
			})
		})

		Convey("When asking for the playmaker's rank", func() {
			_, err := ranking.RankOf("pm", standings)

			Convey("Then it is a role violation", func() {
				So(errors.Is(err, model.ErrRoleViolation), ShouldBeTrue)
			})
		})

		Convey("When asking for an unknown user", func() {
			_, err := ranking.RankOf("nobody", standings)

			Convey("Then it is not found", func() {
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})
	})

	Convey("Given fifteen players with distinct totals", t, func() {
		var standings []model.Standing
		for i := 0; i < 15; i++ {
			standings = append(standings, player(fmt.Sprintf("u%02d", i), fmt.Sprintf("user%02d", i), i*3))
		}

		Convey("When ranking with the default top N", func() {
			entries := ranking.Rank(standings, 0)

			Convey("Then ten entries come back in descending order", func() {
				So(len(entries), ShouldEqual, ranking.DefaultTopN)
				for i := 1; i < len(entries); i++ {
					So(entries[i-1].Points, ShouldBeGreaterThanOrEqualTo, entries[i].Points)
					So(entries[i].Rank, ShouldEqual, i+1)
				}
				So(entries[0].Points, ShouldEqual, 42)
			})
		})

		Convey("When the strict leader asks for their rank", func() {
			r, err := ranking.RankOf("u14", standings)
			So(err, ShouldBeNil)
			So(r, ShouldEqual, 1)
		})

		Convey("When ranking with a custom top N", func() {
			So(len(ranking.Rank(standings, 3)), ShouldEqual, 3)
			So(len(ranking.Rank(standings, 50)), ShouldEqual, 15)
		})
	})

	Convey("Given a tie straddling the cut-off", t, func() {
		standings := []model.Standing{
			player("a", "a", 30), player("b", "b", 10), player("c", "c", 10), player("d", "d", 10),
		}

		Convey("Then truncation keeps the shared rank of the last entry", func() {
			entries := ranking.Rank(standings, 2)
			So(len(entries), ShouldEqual, 2)
			So(entries[1].Rank, ShouldEqual, 2)
			So(entries[1].Username, ShouldEqual, "b")
		})
	})

	Convey("Given no players", t, func() {
		So(ranking.Rank(nil, 10), ShouldBeEmpty)
	})

	Convey("Given the input slice", t, func() {
		standings := []model.Standing{player("b", "b", 1), player("a", "a", 5)}
		_ = ranking.Rank(standings, 10)

		Convey("Then ranking does not reorder it", func() {
			So(standings[0].UserID, ShouldEqual, "b")
		})
	})
}

func TestRankTable(t *testing.T) {
	standings := []model.Standing{
		player("d", "dave", 0),
		player("c", "carol", 15),
		player("b", "bob", 20),
		{UserID: "pm", Username: "boss", Role: model.RolePlaymaker, Points: 40},
		player("a", "alice", 20),
		player("e", "eve", 15),
	}
	want := []types.Entry{
		{Rank: 1, UserID: "a", Username: "alice", Points: 20},
		{Rank: 1, UserID: "b", Username: "bob", Points: 20},
		{Rank: 3, UserID: "c", Username: "carol", Points: 15},
		{Rank: 3, UserID: "e", Username: "eve", Points: 15},
		{Rank: 5, UserID: "d", Username: "dave", Points: 0},
	}
	if diff := cmp.Diff(want, ranking.Rank(standings, 10)); diff != "" {
		t.Errorf("Rank() mismatch (-want +got):\n%s", diff)
	}
	for _, e := range want {
		got, err := ranking.RankOf(e.UserID, standings)
		if err != nil {
			t.Fatalf("RankOf(%s): %v", e.UserID, err)
		}
		if got != e.Rank {
			t.Errorf("RankOf(%s) = %d, want %d", e.UserID, got, e.Rank)
		}
	}
}
