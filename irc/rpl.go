package irc

// IRC replies.
const (
	rplWelcome  = "001" // :Welcome message
	rplYourhost = "002" // :Your host is...
	rplIsupport = "005" // 1*13<TOKEN[=value]> :are supported by this server

	rplEndofwho     = "315" // <name> :End of WHO list
	rplNotopic      = "331" // <channel> :No topic set
	rplTopic        = "332" // <channel> <topic>
	rplTopicwhotime = "333" // <channel> <nick> <setat>
	rplWhoreply     = "352" // <channel> <user> <host> <server> <nick> "H"/"G" ["*"] [("@"/"+")] :<hop count> <nick>
	rplNamreply     = "353" // <=/*/@> <channel> :1*(@/ /+user)
	rplEndofnames   = "366" // <channel> :End of names list
	rplMotd         = "372" // :- <text>

	errNicknameinuse = "433" // <nick> :Nickname in use

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
