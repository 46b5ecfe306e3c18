package models

// Like is one like edge between a user and a post.
type Like struct {
	ID     string
	PostID string
	UserID string
}

func LikeFromRecord(r Record) (Like, error) {
	var l Like
	var err error
	if l.ID, err = optionalString(r, "id"); err != nil {
		return Like{}, err
	}
	if l.PostID, err = requiredString(r, "post_id"); err != nil {
		return Like{}, err
	}
	if l.UserID, err = requiredString(r, "user_id"); err != nil {
		return Like{}, err
	}
	return l, nil
}

// PollVote is a user's current choice on a poll. There is at most one per
// (post, user).
type PollVote struct {
	ID     string
	PostID string
	UserID string
	Option int
}

func PollVoteFromRecord(r Record) (PollVote, error) {
	var v PollVote
	var err error
	if v.ID, err = optionalString(r, "id"); err != nil {
		return PollVote{}, err
	}
	if v.PostID, err = requiredString(r, "post_id"); err != nil {
		return PollVote{}, err
	}
	if v.UserID, err = requiredString(r, "user_id"); err != nil {
		return PollVote{}, err
	}
	opt, err := optionalInt(r, "option_index")
	if err != nil {
		return PollVote{}, err
	}
	if opt == nil || *opt < 0 {
		return PollVote{}, malformed("option_index", r["option_index"])
	}
	v.Option = *opt
	return v, nil
}
