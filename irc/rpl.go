package irc

// IRC replies.
const (
	rplWelcome  = "001" // :Welcome message
	rplYourhost = "002" // :Your host is...
	rplCreated  = "003" // :This server was created...
	rplMyinfo   = "004" // <servername> <version> <umodes> <chan modes> <chan modes with a parameter>
	rplIsupport = "005" // 1*13<TOKEN[=value]> :are supported by this server

	rplUmodeis     = "221" // <modes>
	rplLuserclient = "251" // :<int> users and <int> services on <int> servers

	rplAway         = "301" // <nick> :<away message>
	rplUnaway       = "305" // :You are no longer marked as being away
	rplNowaway      = "306" // :You have been marked as being away
	rplEndofwho     = "315" // <name> :End of WHO list
	rplNotopic      = "331" // <channel> :No topic set
	rplTopic        = "332" // <channel> <topic>
	rplTopicwhotime = "333" // <channel> <nick> <setat>
	rplInviting     = "341" // <nick> <channel>
	rplNamreply     = "353" // <=/*/@> <channel> :1*(@/ /+user)
	rplEndofnames   = "366" // <channel> :End of names list
	rplMotd         = "372" // :- <text>
	rplMotdstart    = "375" // :- <servername> Message of the day -
	rplEndofmotd    = "376" // :End of MOTD command

	errUnknowncommand = "421" // <command> :Unknown command
	errNomotd         = "422" // :MOTD file missing
	errNicknameinuse  = "433" // <nick> :Nickname in use

	// draft/metadata-2 replies.
	rplWhoiskeyvalue     = "760" // <target> <key> <visibility> :<value>
	rplKeyvalue          = "761" // <target> <key> <visibility>[ :<value>]
	rplMetadataend       = "762" // :end of metadata
	errMetadatalimit     = "764" // <target> :metadata limit reached
	errTargetinvalid     = "765" // <target> :invalid metadata target
	errNomatchingkey     = "766" // <target> <key> :no matching key
	errKeyinvalid        = "767" // <key> :invalid metadata key
	errKeynotset         = "768" // <target> <key> :key not set
	errKeynopermission   = "769" // <target> <key> :permission denied
	rplMetadatasubok     = "770" // <key>...
	rplMetadataunsubok   = "771" // <key>...
	rplMetadatasubs      = "772" // <key>...
	rplMetadatasynclater = "774" // <target> [<retry-after>]

	rplLoggedin    = "900" // <nick> <nick>!<ident>@<host> <account> :You are now logged in as <user>
	rplLoggedout   = "901" // <nick> <nick>!<ident>@<host> :You are now logged out
	errNicklocked  = "902" // :You must use a nick assigned to you
	rplSaslsuccess = "903" // :SASL authentication successful
	errSaslfail    = "904" // :SASL authentication failed
	errSasltoolong = "905" // :SASL message too long
	errSaslaborted = "906" // :SASL authentication aborted
	errSaslalready = "907" // :You have already authenticated using SASL
	rplSaslmechs   = "908" // <mechanisms> :are available SASL mechanisms
)

// IsAuthError reports whether a numeric reply denotes a failed SASL
// authentication.
func IsAuthError(reply string) bool {
	switch reply {
	case errNicklocked, errSaslfail, errSasltoolong, errSaslaborted, errSaslalready:
		return true
	}
	return false
}

// ReplySeverity returns the severity of a numeric reply.
func ReplySeverity(reply string) Severity {
	if len(reply) == 3 && (reply[0] == '4' || reply[0] == '5') {
		return SeverityFail
	}
	switch reply {
	case errNicklocked, errSaslfail, errSasltoolong, errSaslaborted, errSaslalready:
		return SeverityFail
	case errMetadatalimit, errTargetinvalid, errNomatchingkey, errKeyinvalid, errKeynotset, errKeynopermission:
		return SeverityFail
	}
	return SeverityNote
}
